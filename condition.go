package fibre

import (
	"sync"
	"time"
	"unsafe"
)

// Condition is a condition variable keyed to an external lock supplied
// by the caller at each call, an external-lock-plus-BlockingQueue shape
// rather than owning its own mutex the way the standard library's
// sync.Cond does (§4.4).
type Condition struct {
	mu    sync.Mutex // protects queue only, distinct from the caller's external lock
	queue BlockingQueue
}

// NewCondition creates an empty Condition.
func NewCondition() *Condition { return &Condition{} }

// Wait releases external, blocks, and reacquires external before
// returning, exactly the classic condition-variable contract (§4.4
// "wait releases the external lock, blocks, and expects the caller to
// reacquire after return"). c.mu stays held across the push and the
// resumeInfo install (via suspendSelfUnlock), only then released: a
// concurrent Signal/Broadcast must take c.mu too, so it can never
// observe a waiter whose node is queued but not yet armed to resume,
// which is the lost-wakeup window this ordering closes (§8 "no lost
// wakeups").
func (c *Condition) Wait(external sync.Locker) {
	f := Self()
	c.mu.Lock()
	n := &bqNode{fibre: f}
	c.queue.pushBack(n)
	external.Unlock()
	f.suspendSelfUnlock(unsafe.Pointer(n), &c.mu)
	external.Lock()
}

// WaitTimeout is Wait bounded by timeout, returning false if the
// deadline elapses before Signal or Broadcast resumes the waiter (§6.1
// "timed wait").
func (c *Condition) WaitTimeout(external sync.Locker, tq *TimerQueue, timeout time.Duration) bool {
	f := Self()
	c.mu.Lock()
	n := &bqNode{fibre: f}
	c.queue.pushBack(n)
	n.timer = tq.install(n, timeout)
	external.Unlock()
	f.suspendSelfUnlock(unsafe.Pointer(n), &c.mu)
	external.Lock()
	return n.reason == wokeSuccess
}

// Signal wakes at most one waiter.
func (c *Condition) Signal() {
	c.mu.Lock()
	c.queue.Unblock()
	c.mu.Unlock()
}

// Broadcast wakes every current waiter.
func (c *Condition) Broadcast() {
	c.mu.Lock()
	for c.queue.Unblock() {
	}
	c.mu.Unlock()
}
