package fibre

import (
	"container/heap"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestTimerHeapPopsEarliestFirst(t *testing.T) {
	now := time.Now()
	h := &timerHeap{}
	heap.Init(h)
	heap.Push(h, &timerEntry{deadline: now.Add(30 * time.Millisecond)})
	heap.Push(h, &timerEntry{deadline: now.Add(10 * time.Millisecond)})
	heap.Push(h, &timerEntry{deadline: now.Add(20 * time.Millisecond)})

	var order []time.Duration
	for h.Len() > 0 {
		e := heap.Pop(h).(*timerEntry)
		order = append(order, e.deadline.Sub(now))
	}
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, order)
}

// TestTimerQueueArmsOnlyEarliest checks install only re-arms the platform
// timer when the newly installed entry becomes the new earliest deadline.
func TestTimerQueueArmsOnlyEarliest(t *testing.T) {
	var armed []time.Duration
	tq := newTimerQueue(func(d time.Duration) { armed = append(armed, d) })

	tq.install(&bqNode{}, 10*time.Millisecond)
	tq.install(&bqNode{}, 50*time.Millisecond) // later deadline, must not re-arm
	tq.install(&bqNode{}, 5*time.Millisecond)  // new earliest, must re-arm

	require.Equal(t, []time.Duration{10 * time.Millisecond, 5 * time.Millisecond}, armed)
}

// TestTimerQueueCheckExpiryResumesAndSkipsCancelled exercises CheckExpiry
// directly, simulating the two bookkeeping steps suspendSelf performs
// (store resumeInfo, fetch-subtract runState) without actually parking a
// goroutine, so the race arbitration and enqueue side effects can be
// checked without running a full scheduler.
func TestTimerQueueCheckExpiryResumesAndSkipsCancelled(t *testing.T) {
	es := &EventScope{log: newLogger(0)}
	c := newCluster(es, "test", ReadyQueueLockFree)
	w := newWorker(0, c, ReadyQueueLockFree)

	mkParkedFibre := func(name string) *Fibre {
		f := NewFibre(FibreAttrs{Cluster: c, Name: name})
		f.owner.Store(w)
		f.runningOn = w
		return f
	}
	simulateSuspend := func(f *Fibre, n *bqNode) {
		atomic.StorePointer(&f.resumeInfo, unsafe.Pointer(n))
		f.runState.Add(-1)
	}

	f1 := mkParkedFibre("one")
	f2 := mkParkedFibre("two")
	n1 := &bqNode{fibre: f1}
	n2 := &bqNode{fibre: f2}
	simulateSuspend(f1, n1)
	simulateSuspend(f2, n2)

	tq := newTimerQueue(nil)
	tq.install(n1, 5*time.Millisecond)
	e2 := tq.install(n2, 10*time.Millisecond)
	e2.cancel()

	hasMore, _ := tq.CheckExpiry(time.Now().Add(20 * time.Millisecond))
	require.False(t, hasMore)

	require.Equal(t, wokeTimeout, n1.reason)
	require.Equal(t, wokeNone, n2.reason) // cancelled entry is never touched

	popped := w.ready.TryLocal()
	require.NotNil(t, popped)
	require.Same(t, f1, popped)
	require.Nil(t, w.ready.TryLocal()) // f2 was cancelled, never enqueued
}

// TestTimerQueueCheckExpiryReportsNextDeadline checks the relative delay
// returned for re-arming reflects the earliest surviving entry.
func TestTimerQueueCheckExpiryReportsNextDeadline(t *testing.T) {
	tq := newTimerQueue(nil)
	now := time.Now()
	tq.install(&bqNode{}, 5*time.Millisecond)
	tq.install(&bqNode{}, 50*time.Millisecond)

	hasMore, next := tq.CheckExpiry(now)
	require.True(t, hasMore)
	require.InDelta(t, float64(5*time.Millisecond), float64(next), float64(5*time.Millisecond))
}
