// Package peer implements the Peer Manager: the listening socket and
// outbound connections to peers, wire framing, optional compression/AEAD,
// and dispatch of inbound requests to registered handlers. Adapted from the
// teacher's cmd/syncthing/model.go connection bookkeeping (protoConn/rawConn
// maps guarded by pmut) and cid.Map, generalized to the spec's fixed,
// IP-keyed Peer Table.
package peer

import "sync"

// Table is the fixed Peer Table: a mapping from peer IP to online status.
// The set of keys never changes after construction; only the flag mutates.
type Table struct {
	mut   sync.RWMutex
	state map[string]bool
	ids   *cidMap
}

// NewTable builds a Table with one offline entry per peer IP.
func NewTable(ips []string) *Table {
	t := &Table{
		state: make(map[string]bool, len(ips)),
		ids:   newCIDMap(),
	}
	for _, ip := range ips {
		t.state[ip] = false
		t.ids.get(ip)
	}
	return t
}

// Known reports whether ip is one of the statically configured peers.
func (t *Table) Known(ip string) bool {
	t.mut.RLock()
	defer t.mut.RUnlock()
	_, ok := t.state[ip]
	return ok
}

// SetOnline updates the online flag for ip. Unknown IPs are ignored —
// online status is tracked only for configured peers.
func (t *Table) SetOnline(ip string, online bool) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if _, ok := t.state[ip]; ok {
		t.state[ip] = online
	}
}

// IPs returns the fixed set of peer IPs.
func (t *Table) IPs() []string {
	t.mut.RLock()
	defer t.mut.RUnlock()
	ips := make([]string, 0, len(t.state))
	for ip := range t.state {
		ips = append(ips, ip)
	}
	return ips
}

// Snapshot returns a copy of the current online flags.
func (t *Table) Snapshot() map[string]bool {
	t.mut.RLock()
	defer t.mut.RUnlock()
	out := make(map[string]bool, len(t.state))
	for ip, online := range t.state {
		out[ip] = online
	}
	return out
}

// ID returns the small stable connection id assigned to ip, for use as a
// compact metrics/log label.
func (t *Table) ID(ip string) uint {
	return t.ids.get(ip)
}

// name reverses ID, returning the peer IP a connection id was assigned to.
func (t *Table) name(cid uint) string {
	return t.ids.name(cid)
}
