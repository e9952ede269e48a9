package fibre

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncPointWaitReturnsImmediatelyAfterPost(t *testing.T) {
	sp := NewSyncPoint()
	sp.Post()
	sp.Wait() // must not block
}

func TestSyncPointPostTwiceAborts(t *testing.T) {
	sp := NewSyncPoint()
	sp.Post()
	require.Panics(t, func() { sp.Post() })
}

func TestSyncPointDetach(t *testing.T) {
	sp := NewSyncPoint()
	require.False(t, sp.Detached())
	sp.Detach()
	require.True(t, sp.Detached())
}

// TestSyncPointWakesWaiters checks fibres parked on Wait before Post
// actually unblock once it runs, rather than requiring Post to precede
// every waiter's arrival.
func TestSyncPointWakesWaiters(t *testing.T) {
	es := newTestScope(t, 4)
	sp := NewSyncPoint()
	const waiters = 6

	var done int64
	for i := 0; i < waiters; i++ {
		f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "waiter"})
		f.Start(func() {
			sp.Wait()
			atomic.AddInt64(&done, 1)
		})
	}

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, atomic.LoadInt64(&done))

	sp.Post()
	require.Eventually(t, func() bool { return atomic.LoadInt64(&done) == waiters }, time.Second, time.Millisecond)
}
