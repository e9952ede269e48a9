package fibre

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mutex is a fibre-aware mutual exclusion lock (§4.4). Fifo=true hands
// the owner slot directly to the head waiter on release (baton passing,
// no barging); Fifo=false clears the owner slot and lets the unblocked
// waiter re-contend with any new arrival, which favors throughput over
// fairness.
type Mutex struct {
	fifo   bool
	spin   SpinPolicy
	mu     sync.Mutex
	owner  *Fibre
	queue  BlockingQueue
	locked atomic.Bool
}

// NewMutex creates a Mutex with the given fairness policy and spin
// tuning.
func NewMutex(fifo bool, spin SpinPolicy) *Mutex {
	return &Mutex{fifo: fifo, spin: spin}
}

// Lock blocks until the calling fibre holds the mutex.
func (m *Mutex) Lock() {
	if m.locked.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.owner = Self()
		m.mu.Unlock()
		return
	}
	if m.spin.trySpin(func() bool { return m.locked.CompareAndSwap(false, true) }) {
		m.mu.Lock()
		m.owner = Self()
		m.mu.Unlock()
		return
	}
	for {
		m.mu.Lock()
		if m.locked.CompareAndSwap(false, true) {
			m.owner = Self()
			m.mu.Unlock()
			return
		}
		m.queue.Block(&m.mu)
		// woken either by handoff (Fifo: owner already set for us) or by
		// losing barging race and needing to recontend.
		m.mu.Lock()
		if m.fifo && m.owner == Self() {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

// LockTimeout is Lock bounded by timeout, returning false if the
// deadline elapses before the calling fibre acquires the mutex (§6.1
// "timed lock").
func (m *Mutex) LockTimeout(tq *TimerQueue, timeout time.Duration) bool {
	if m.locked.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.owner = Self()
		m.mu.Unlock()
		return true
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		m.mu.Lock()
		if m.locked.CompareAndSwap(false, true) {
			m.owner = Self()
			m.mu.Unlock()
			return true
		}
		ok := m.queue.BlockTimeout(&m.mu, tq, remaining)
		m.mu.Lock()
		if m.fifo && m.owner == Self() {
			m.mu.Unlock()
			return true
		}
		m.mu.Unlock()
		if !ok {
			return false
		}
	}
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	if m.locked.CompareAndSwap(false, true) {
		m.mu.Lock()
		m.owner = Self()
		m.mu.Unlock()
		return true
	}
	return false
}

// Unlock releases the mutex, waking the head waiter (Fifo) or simply
// clearing ownership for barging contenders (non-Fifo).
func (m *Mutex) Unlock() {
	m.mu.Lock()
	if m.fifo {
		// Hand the owner slot to whichever waiter UnblockFibre actually
		// resumes, not the queue's head: a timed-out LockTimeout waiter can
		// leave a stale node at the head that Unblock's lazy cleanup has
		// not yet swept, so the head is not reliably the winner.
		if next := m.queue.UnblockFibre(); next != nil {
			m.owner = next
			m.mu.Unlock()
			return
		}
		m.owner = nil
		m.locked.Store(false)
		m.mu.Unlock()
		return
	}
	m.owner = nil
	m.locked.Store(false)
	m.queue.Unblock()
	m.mu.Unlock()
}
