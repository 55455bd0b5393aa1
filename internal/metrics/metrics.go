// Package metrics records per-peer transfer counters for observability.
// This is ambient instrumentation, not part of the wire protocol: it has no
// effect on convergence or peer selection. Grounded on
// other_examples/manifests/syncthing-syncthing/go.mod's use of
// github.com/rcrowley/go-metrics.
package metrics

import (
	"fmt"
	"sync"

	gometrics "github.com/rcrowley/go-metrics"
)

// PeerMetrics holds the counters for one peer connection id.
type PeerMetrics struct {
	BytesReceived gometrics.Counter
	BlocksFetched gometrics.Counter
	BlocksFailed  gometrics.Counter
	LastRTT       gometrics.Gauge // nanoseconds
}

// Registry is a small per-peer metrics registry keyed by connection id.
// Peer is called concurrently from every in-flight fetchFile goroutine
// (one per file, up to ConcurrentDownloading at a time), so peers is
// guarded by mut the same way internal/peer's cidMap and internal/index's
// Index guard their maps.
type Registry struct {
	mut   sync.Mutex
	reg   gometrics.Registry
	peers map[uint]*PeerMetrics
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		reg:   gometrics.NewRegistry(),
		peers: make(map[uint]*PeerMetrics),
	}
}

// Peer returns (creating if needed) the counters for connection id cid.
func (r *Registry) Peer(cid uint) *PeerMetrics {
	r.mut.Lock()
	defer r.mut.Unlock()

	if pm, ok := r.peers[cid]; ok {
		return pm
	}
	pm := &PeerMetrics{
		BytesReceived: gometrics.NewCounter(),
		BlocksFetched: gometrics.NewCounter(),
		BlocksFailed:  gometrics.NewCounter(),
		LastRTT:       gometrics.NewGauge(),
	}
	_ = r.reg.Register(fmt.Sprintf("peer.%d.bytes_received", cid), pm.BytesReceived)
	_ = r.reg.Register(fmt.Sprintf("peer.%d.blocks_fetched", cid), pm.BlocksFetched)
	_ = r.reg.Register(fmt.Sprintf("peer.%d.blocks_failed", cid), pm.BlocksFailed)
	_ = r.reg.Register(fmt.Sprintf("peer.%d.last_rtt_ns", cid), pm.LastRTT)
	r.peers[cid] = pm
	return pm
}

// Summary renders a one-line-per-peer human-readable summary, logged at
// stop().
func (r *Registry) Summary() map[uint]string {
	r.mut.Lock()
	defer r.mut.Unlock()

	out := make(map[uint]string, len(r.peers))
	for cid, pm := range r.peers {
		out[cid] = fmt.Sprintf("bytes=%d fetched=%d failed=%d last_rtt_ms=%.1f",
			pm.BytesReceived.Count(), pm.BlocksFetched.Count(), pm.BlocksFailed.Count(),
			float64(pm.LastRTT.Value())/1e6)
	}
	return out
}
