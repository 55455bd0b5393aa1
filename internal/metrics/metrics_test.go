package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerCreatesOncePerID(t *testing.T) {
	r := New()
	a := r.Peer(1)
	b := r.Peer(1)
	assert.Same(t, a, b)
}

func TestPeerConcurrentAccessDoesNotRace(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(cid uint) {
			defer wg.Done()
			pm := r.Peer(cid % 4)
			pm.BytesReceived.Inc(1)
			pm.BlocksFetched.Inc(1)
		}(uint(i))
	}
	wg.Wait()

	summary := r.Summary()
	require.Len(t, summary, 4)
}

func TestSummaryReflectsCounters(t *testing.T) {
	r := New()
	pm := r.Peer(7)
	pm.BytesReceived.Inc(100)
	pm.BlocksFetched.Inc(2)
	pm.BlocksFailed.Inc(1)

	summary := r.Summary()
	line, ok := summary[7]
	require.True(t, ok)
	assert.Contains(t, line, "bytes=100")
	assert.Contains(t, line, "fetched=2")
	assert.Contains(t, line, "failed=1")
}
