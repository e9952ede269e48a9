package fibre

import (
	"sync"
	"sync/atomic"
)

// priorityLane is one per-priority runnable lane inside a ReadyQueue:
// many producers push (resumers on other workers, pollers, the placement
// path), the owning worker is normally the sole consumer, but steal calls
// the same tryPop from a different worker. Both implementations below
// satisfy: a push followed by the owner's pop observes the fibre;
// concurrent pushes never lose an item; a failed pop never removes one.
type priorityLane interface {
	push(*Fibre)
	tryPop() *Fibre
}

// laneNode is a Michael-Scott queue node carrying one fibre, the
// lock-free lane's unit of intrusive linkage.
type laneNode struct {
	fibre *Fibre
	next  atomic.Pointer[laneNode]
}

var laneNodePool = sync.Pool{New: func() any { return &laneNode{} }}

// lockFreeLane is the default MPSC lane: a Michael-Scott queue over
// *Fibre, generalized from ZenQ's thread-pointer/data-pointer intrusive
// queue design, specialized to carry *Fibre instead of *any.
type lockFreeLane struct {
	head atomic.Pointer[laneNode]
	tail atomic.Pointer[laneNode]
}

func newLockFreeLane() *lockFreeLane {
	stub := &laneNode{}
	l := &lockFreeLane{}
	l.head.Store(stub)
	l.tail.Store(stub)
	return l
}

func (l *lockFreeLane) push(f *Fibre) {
	n := laneNodePool.Get().(*laneNode)
	n.fibre = f
	n.next.Store(nil)
	for {
		tail := l.tail.Load()
		next := tail.next.Load()
		if tail != l.tail.Load() {
			continue
		}
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				l.tail.CompareAndSwap(tail, n)
				return
			}
		} else {
			l.tail.CompareAndSwap(tail, next)
		}
	}
}

func (l *lockFreeLane) tryPop() *Fibre {
	for {
		head := l.head.Load()
		tail := l.tail.Load()
		next := head.next.Load()
		if head != l.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return nil
			}
			l.tail.CompareAndSwap(tail, next)
			continue
		}
		f := next.fibre
		if l.head.CompareAndSwap(head, next) {
			head.fibre = nil
			head.next.Store(nil)
			laneNodePool.Put(head)
			return f
		}
	}
}

// lockedLane is the mutex-guarded alternative ReadyQueue lanes can use
// instead of the lock-free queue (§4.2 "both designs must be supported
// behind the same interface"), adapted from ZenQ's array-backed ring
// buffer down to a plain guarded slice since a ready-queue lane has no
// fixed capacity to size a ring against.
type lockedLane struct {
	mu    sync.Mutex
	items []*Fibre
}

func newLockedLane() *lockedLane { return &lockedLane{} }

func (l *lockedLane) push(f *Fibre) {
	l.mu.Lock()
	l.items = append(l.items, f)
	l.mu.Unlock()
}

func (l *lockedLane) tryPop() *Fibre {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return nil
	}
	f := l.items[0]
	l.items[0] = nil
	l.items = l.items[1:]
	return f
}

// ReadyQueueKind selects which priorityLane implementation backs a newly
// created ReadyQueue.
type ReadyQueueKind uint8

const (
	ReadyQueueLockFree ReadyQueueKind = iota
	ReadyQueueLocked
)

// ReadyQueue is a worker's per-priority runnable queue (§3, §4.2):
// strictly higher priorities drain first, FIFO within a priority.
type ReadyQueue struct {
	lanes [numPriorities]priorityLane
}

func newReadyQueue(kind ReadyQueueKind) *ReadyQueue {
	rq := &ReadyQueue{}
	for p := range rq.lanes {
		if kind == ReadyQueueLocked {
			rq.lanes[p] = newLockedLane()
		} else {
			rq.lanes[p] = newLockFreeLane()
		}
	}
	return rq
}

// Push enqueues f onto the lane matching its priority.
func (rq *ReadyQueue) Push(f *Fibre) {
	rq.lanes[f.priority].push(f)
}

// TryLocal pops the highest-priority runnable fibre, if any, scanning
// lanes top-priority first.
func (rq *ReadyQueue) TryLocal() *Fibre {
	for p := 0; p < numPriorities; p++ {
		if f := rq.lanes[p].tryPop(); f != nil {
			return f
		}
	}
	return nil
}

// TrySteal is TryLocal called by a worker other than the owner. A
// Fixed-affinity fibre is never migrated by the scheduler (§4.2), so a
// stolen Fixed fibre is pushed back onto its own lane instead of being
// handed to the stealing worker.
func (rq *ReadyQueue) TrySteal() *Fibre {
	for p := 0; p < numPriorities; p++ {
		f := rq.lanes[p].tryPop()
		if f == nil {
			continue
		}
		if f.affinity == AffinityFixed {
			rq.lanes[p].push(f)
			continue
		}
		return f
	}
	return nil
}
