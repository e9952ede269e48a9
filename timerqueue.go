package fibre

import (
	"container/heap"
	"sync"
	"time"
	"unsafe"
)

// timerEntry is one armed deadline, installed either directly (Fibre
// sleep) or from a BlockingQueue wait with a timeout (§4.5).
type timerEntry struct {
	deadline time.Time
	fibre    *Fibre
	node     *bqNode // non-nil when installed alongside a BlockingQueue wait
	index    int     // heap.Interface bookkeeping
	cancelled bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerQueue is the per-EventScope deadline-ordered multimap driving
// timed suspends (§4.5). Expiry is checked by the master poller's loop
// via CheckExpiry; arming the OS-level timer for the earliest deadline
// is the caller's job (EventScope wires this to the platform timer fd).
type TimerQueue struct {
	mu   sync.Mutex
	heap timerHeap
	arm  func(time.Duration) // re-arm the platform timer for the earliest deadline
}

func newTimerQueue(arm func(time.Duration)) *TimerQueue {
	return &TimerQueue{arm: arm}
}

// install inserts n's fibre at now+timeout, arming the platform timer
// if this entry became the earliest.
func (tq *TimerQueue) install(n *bqNode, timeout time.Duration) *timerEntry {
	e := &timerEntry{deadline: time.Now().Add(timeout), fibre: n.fibre, node: n}
	tq.mu.Lock()
	heap.Push(&tq.heap, e)
	earliest := tq.heap[0] == e
	tq.mu.Unlock()
	if earliest && tq.arm != nil {
		tq.arm(timeout)
	}
	return e
}

// sleep parks f for d with no synchronization object involved, used by
// the package-level Sleep helper (§6.1 "sleep(duration)").
func (tq *TimerQueue) sleep(f *Fibre, d time.Duration) {
	e := &timerEntry{deadline: time.Now().Add(d), fibre: f}
	tq.mu.Lock()
	heap.Push(&tq.heap, e)
	earliest := tq.heap[0] == e
	tq.mu.Unlock()
	if earliest && tq.arm != nil {
		tq.arm(d)
	}
	self := unsafe.Pointer(e)
	f.suspendSelf(self)
}

// cancel marks e so a future CheckExpiry skips it; used when a
// BlockingQueue.Unblock wins the race before the timer fires.
func (e *timerEntry) cancel() {
	e.cancelled = true
}

// CheckExpiry walks every entry whose deadline has passed, arbitrating
// each one via raceResume exactly like any other waker (§4.5
// "check_expiry"). Returns whether entries remain and the relative
// delay until the next one, for the caller to re-arm the platform timer.
func (tq *TimerQueue) CheckExpiry(now time.Time) (hasMore bool, nextRel time.Duration) {
	tq.mu.Lock()
	var expired []*timerEntry
	for len(tq.heap) > 0 && !tq.heap[0].deadline.After(now) {
		expired = append(expired, heap.Pop(&tq.heap).(*timerEntry))
	}
	hasMore = len(tq.heap) > 0
	if hasMore {
		nextRel = tq.heap[0].deadline.Sub(now)
		if nextRel < 0 {
			nextRel = 0
		}
	}
	tq.mu.Unlock()

	for _, e := range expired {
		if e.cancelled {
			continue
		}
		f := e.fibre
		owner := f.raceResume()
		if owner == nil {
			continue
		}
		if e.node != nil {
			e.node.reason = wokeTimeout
		}
		f.resume()
	}
	return hasMore, nextRel
}
