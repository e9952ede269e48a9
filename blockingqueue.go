package fibre

import (
	"sync"
	"time"
	"unsafe"
)

// wakeReason records which waker actually resumed a parked fibre.
// Go has no way to thread a "winner" value back through a literal
// stack-switch return the way the original does; the node the fibre
// waits on carries the answer instead, written by whichever waker won
// raceResume immediately before calling resume, read by the fibre once
// it wakes.
type wakeReason uint8

const (
	wokeNone wakeReason = iota
	wokeSuccess
	wokeTimeout
)

// bqNode is one intrusive wait-node, stack-owned by the fibre that is
// parked on it (§3 "wait-nodes are stack-owned by the waiting fibre").
type bqNode struct {
	prev, next *bqNode
	fibre      *Fibre
	reason     wakeReason
	timer      *timerEntry // non-nil while also installed on a TimerQueue
}

// BlockingQueue is the intrusive list of suspended fibres attached to a
// synchronization object (§3, §4.4). All three operations require the
// caller to already hold the lock that protects the object's state;
// BlockingQueue only manages the wait-list and the resume race, never
// the object's own state.
type BlockingQueue struct {
	head, tail *bqNode
	count      int
}

func (bq *BlockingQueue) pushBack(n *bqNode) {
	n.prev, n.next = bq.tail, nil
	if bq.tail != nil {
		bq.tail.next = n
	} else {
		bq.head = n
	}
	bq.tail = n
	bq.count++
}

func (bq *BlockingQueue) remove(n *bqNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		bq.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		bq.tail = n.prev
	}
	n.prev, n.next = nil, nil
	bq.count--
}

// Empty reports whether any fibre is currently parked on bq. The caller
// must hold the protecting lock.
func (bq *BlockingQueue) Empty() bool { return bq.head == nil }

// Block parks the calling fibre, releasing lock first (§4.4 "block(lock)").
// It returns true if a waker's Unblock removed the node (success), false
// if the caller must remove the node itself after reacquiring the lock,
// which cannot happen on this path since there is no competing timeout,
// but the signature is kept symmetric with BlockTimeout for callers that
// share code between the two.
func (bq *BlockingQueue) Block(lock sync.Locker) bool {
	f := Self()
	if f == nil {
		abort("BlockingQueue.Block", "called from a goroutine that is not a fibre")
	}
	n := &bqNode{fibre: f}
	bq.pushBack(n)
	self := unsafe.Pointer(n)
	f.suspendSelfUnlock(self, lock)
	return n.reason == wokeSuccess
}

// BlockTimeout parks the calling fibre as Block does, but also installs
// it on tq with the given timeout; the two wake paths race via
// raceResume (§4.4 "block(lock, deadline)", §4.5). Returns true if a
// waker (not the timer) won the race.
func (bq *BlockingQueue) BlockTimeout(lock sync.Locker, tq *TimerQueue, timeout time.Duration) bool {
	f := Self()
	if f == nil {
		abort("BlockingQueue.BlockTimeout", "called from a goroutine that is not a fibre")
	}
	n := &bqNode{fibre: f}
	bq.pushBack(n)
	n.timer = tq.install(n, timeout)
	self := unsafe.Pointer(n)
	f.suspendSelfUnlock(self, lock)
	return n.reason == wokeSuccess
}

// UnblockFibre is Unblock but also returns the fibre actually resumed,
// for callers that need to know which waiter won rather than assuming
// it was the one at the head (lazy cleanup of timed-out nodes means the
// head is not reliably the winner). Returns nil if no waiter was found.
// The caller must hold the protecting lock.
func (bq *BlockingQueue) UnblockFibre() *Fibre {
	for n := bq.head; n != nil; {
		next := n.next
		bq.remove(n)
		f := n.fibre
		if owner := f.raceResume(); owner != nil {
			n.reason = wokeSuccess
			if n.timer != nil {
				n.timer.cancel()
			}
			f.resume()
			return f
		}
		n = next
	}
	return nil
}

// Unblock wakes the first waiter that wins the resume race, removing it
// from the queue and enqueuing it for resumption (§4.4 "unblock()").
// Reports whether a waiter was found at all (as distinct from one that
// was found but had already lost its race to a timeout, which is itself
// removed here since cleanup is lazy). The caller must hold the
// protecting lock.
func (bq *BlockingQueue) Unblock() bool {
	return bq.UnblockFibre() != nil
}

// Destroy asserts the queue is empty; synchronization objects call this
// from their own teardown to catch a waiter leaked past object lifetime.
func (bq *BlockingQueue) Destroy() {
	if bq.head != nil {
		abort("BlockingQueue.Destroy", "destroyed with waiters still parked")
	}
}
