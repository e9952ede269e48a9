package fibre

import (
	"sync"
	"time"
)

// RWLock is a reader/writer lock with writer priority: once a writer is
// waiting, new readers block behind it rather than continuing to pile
// in ahead, which avoids writer starvation under a steady stream of
// readers (§4.4 "writers have priority against new readers").
type RWLock struct {
	mu          sync.Mutex
	readers     int
	writerHeld  bool
	writerWait  int
	readersCond Condition
	writerCond  Condition
}

// NewRWLock creates an unlocked RWLock.
func NewRWLock() *RWLock { return &RWLock{} }

// RLock blocks while a writer holds the lock or one is waiting.
func (l *RWLock) RLock() {
	l.mu.Lock()
	for l.writerHeld || l.writerWait > 0 {
		l.readersCond.Wait(&l.mu)
	}
	l.readers++
	l.mu.Unlock()
}

// TryRLock attempts to acquire a read lock without blocking.
func (l *RWLock) TryRLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writerHeld || l.writerWait > 0 {
		return false
	}
	l.readers++
	return true
}

// RLockTimeout is RLock bounded by timeout, returning false if the
// deadline elapses first (§6.1 "timed read").
func (l *RWLock) RLockTimeout(tq *TimerQueue, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	l.mu.Lock()
	for l.writerHeld || l.writerWait > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.mu.Unlock()
			return false
		}
		if !l.readersCond.WaitTimeout(&l.mu, tq, remaining) {
			l.mu.Unlock()
			return false
		}
	}
	l.readers++
	l.mu.Unlock()
	return true
}

// RUnlock releases a read lock, waking a waiting writer if this was the
// last reader.
func (l *RWLock) RUnlock() {
	l.mu.Lock()
	l.readers--
	if l.readers == 0 {
		l.writerCond.Signal()
	}
	l.mu.Unlock()
}

// Lock blocks until the calling fibre holds exclusive access.
func (l *RWLock) Lock() {
	l.mu.Lock()
	l.writerWait++
	for l.writerHeld || l.readers > 0 {
		l.writerCond.Wait(&l.mu)
	}
	l.writerWait--
	l.writerHeld = true
	l.mu.Unlock()
}

// TryLock attempts to acquire exclusive access without blocking.
func (l *RWLock) TryLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writerHeld || l.readers > 0 {
		return false
	}
	l.writerHeld = true
	return true
}

// LockTimeout is Lock bounded by timeout, returning false if the
// deadline elapses first (§6.1 "timed write").
func (l *RWLock) LockTimeout(tq *TimerQueue, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	l.mu.Lock()
	l.writerWait++
	for l.writerHeld || l.readers > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.writerWait--
			l.mu.Unlock()
			return false
		}
		if !l.writerCond.WaitTimeout(&l.mu, tq, remaining) {
			l.writerWait--
			l.mu.Unlock()
			return false
		}
	}
	l.writerWait--
	l.writerHeld = true
	l.mu.Unlock()
	return true
}

// Unlock releases an exclusive lock, waking one waiting writer if there
// is one and otherwise every blocked reader (§4.4). A waiting writer is
// always preferred over blocked readers, so releases do not alternate
// between writers and readers while writers keep arriving.
func (l *RWLock) Unlock() {
	l.mu.Lock()
	l.writerHeld = false
	if l.writerWait > 0 {
		l.writerCond.Signal()
	} else {
		l.readersCond.Broadcast()
	}
	l.mu.Unlock()
}
