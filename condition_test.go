package fibre

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestConditionSignalWakesOneWaiter checks Signal only ever wakes a
// single waiter even when several are parked, leaving the rest blocked.
func TestConditionSignalWakesOneWaiter(t *testing.T) {
	es := newTestScope(t, 4)
	var mu sync.Mutex
	cond := NewCondition()
	ready := false
	var woken int64
	const waiters = 5

	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "waiter"})
		f.Start(func() {
			mu.Lock()
			for !ready {
				cond.Wait(&mu)
			}
			atomic.AddInt64(&woken, 1)
			mu.Unlock()
			wg.Done()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cond.queue.count == waiters
	}, time.Second, time.Millisecond)

	mu.Lock()
	ready = true
	cond.Signal()
	mu.Unlock()

	require.Eventually(t, func() bool { return atomic.LoadInt64(&woken) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int64(1), atomic.LoadInt64(&woken))

	mu.Lock()
	cond.Broadcast()
	mu.Unlock()
	wg.Wait()
	require.Equal(t, int64(waiters), atomic.LoadInt64(&woken))
}

// TestConditionBroadcastWakesAll checks a single Broadcast drains every
// parked waiter with no lost wakeups.
func TestConditionBroadcastWakesAll(t *testing.T) {
	es := newTestScope(t, 4)
	var mu sync.Mutex
	cond := NewCondition()
	ready := false
	const waiters = 8

	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "waiter"})
		f.Start(func() {
			mu.Lock()
			for !ready {
				cond.Wait(&mu)
			}
			mu.Unlock()
			wg.Done()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cond.queue.count == waiters
	}, time.Second, time.Millisecond)

	mu.Lock()
	ready = true
	cond.Broadcast()
	mu.Unlock()

	wg.Wait()
}

// TestConditionWaitTimeout checks WaitTimeout gives up once the
// deadline elapses with no Signal, then returns true when a Signal does
// arrive within a fresh deadline.
func TestConditionWaitTimeout(t *testing.T) {
	es := newTestScope(t, 4)
	var mu sync.Mutex
	cond := NewCondition()

	var timedOutResult, signaledResult bool
	var wg sync.WaitGroup
	wg.Add(1)
	f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "waiter"})
	f.Start(func() {
		mu.Lock()
		timedOutResult = cond.WaitTimeout(&mu, es.timerQueue, 20*time.Millisecond)
		mu.Unlock()
		wg.Done()
	})
	wg.Wait()
	require.False(t, timedOutResult)

	wg.Add(1)
	g := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "waiter2"})
	g.Start(func() {
		mu.Lock()
		signaledResult = cond.WaitTimeout(&mu, es.timerQueue, time.Second)
		mu.Unlock()
		wg.Done()
	})
	// The first waiter's timed-out node stays queued until a later
	// Unblock sweeps it, so the second waiter has parked once the queue
	// holds two nodes.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cond.queue.count == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	cond.Signal()
	mu.Unlock()
	wg.Wait()
	require.True(t, signaledResult)
}
