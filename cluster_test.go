package fibre

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestCluster builds a Cluster with a bare logger-only EventScope,
// skipping the real poller/registry machinery that Bootstrap wires up,
// enough to exercise placement, stealing, and pause/resume in isolation.
func newTestCluster(t *testing.T, workers int) *Cluster {
	t.Helper()
	es := &EventScope{log: newLogger(0)}
	c := newCluster(es, "test", ReadyQueueLockFree)
	for i := 0; i < workers; i++ {
		c.AddWorker(nil)
	}
	require.Eventually(t, func() bool { return c.WorkerCount() == workers }, time.Second, time.Millisecond)
	return c
}

func TestClusterPlacementRoundRobins(t *testing.T) {
	c := newTestCluster(t, 4)
	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		w := c.placement(false)
		seen[w.id] = true
	}
	require.Len(t, seen, 4)
}

func TestClusterRunsPlacedFibres(t *testing.T) {
	c := newTestCluster(t, 4)
	const n = 200
	var count int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		f := NewFibre(FibreAttrs{Cluster: c, Name: "worker-fibre"})
		f.Start(func() {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}
	wg.Wait()
	require.Equal(t, int64(n), count)
}

func TestClusterPauseResumeStopsTheWorld(t *testing.T) {
	c := newTestCluster(t, 4)

	var stopped atomic.Bool
	var running, spins int64
	for i := 0; i < 4; i++ {
		f := NewFibre(FibreAttrs{Cluster: c, Name: "busy"})
		f.Start(func() {
			atomic.AddInt64(&running, 1)
			for !stopped.Load() {
				atomic.AddInt64(&spins, 1)
				Self().Yield()
			}
		})
	}
	require.Eventually(t, func() bool { return atomic.LoadInt64(&running) == 4 }, time.Second, time.Millisecond)

	// Pause enqueues a top-priority stop-fibre on every worker in the
	// ring; each busy fibre keeps yielding, giving the stop-fibre a
	// chance to run ahead of it on the same queue.
	token := c.Pause()
	before := atomic.LoadInt64(&spins)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, atomic.LoadInt64(&spins))
	token.Resume()
	stopped.Store(true)
}
