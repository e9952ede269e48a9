package fibre

import (
	"sync"
	"time"
)

// Semaphore is a counting semaphore built on a signed counter plus
// BlockingQueue, using baton passing on V: a waiter is handed the unit
// directly through BlockingQueue.Unblock rather than the counter being
// incremented and separately raced for (§4.4). There is no separate
// binary mode: a Semaphore created with an initial count of 1 acts as
// one only while every V follows a P, since V never caps the count.
type Semaphore struct {
	spin  SpinPolicy
	mu    sync.Mutex
	count int
	queue BlockingQueue
}

// NewSemaphore creates a Semaphore with the given initial count. cluster
// is accepted for API symmetry with the rest of the primitive family
// (a future spin/backoff tuning hook keyed by cluster) but is not
// currently read.
func NewSemaphore(cluster *Cluster, initial int) *Semaphore {
	return &Semaphore{count: initial}
}

// NewSemaphoreSpin is NewSemaphore with an explicit spin policy.
func NewSemaphoreSpin(initial int, spin SpinPolicy) *Semaphore {
	return &Semaphore{count: initial, spin: spin}
}

// P decrements the semaphore, blocking if no unit is available. The
// blocking path leaves count untouched rather than driving it negative:
// a blocked waiter receives its unit entirely through V's baton hand-off,
// never through count, so count must never count a unit twice (§4.4,
// §8 "baton conservation").
func (s *Semaphore) P() {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.spin.trySpin(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.count > 0 {
			s.count--
			return true
		}
		return false
	}) {
		return
	}

	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return
	}
	s.queue.Block(&s.mu)
}

// TryP attempts to decrement without blocking.
func (s *Semaphore) TryP() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// PTimeout is P bounded by timeout, returning false if the deadline
// elapses before a unit becomes available (§6.1 "timed P").
func (s *Semaphore) PTimeout(tq *TimerQueue, timeout time.Duration) bool {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if s.spin.trySpin(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.count > 0 {
			s.count--
			return true
		}
		return false
	}) {
		return true
	}

	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true
	}
	return s.queue.BlockTimeout(&s.mu, tq, timeout)
}

// Value reports the current count, for diagnostics and tests (§6.1
// "get-value"). The count observed is stale the instant it is returned
// under any concurrent use; callers needing a linearizable decision
// should use P/TryP/PTimeout instead.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// V releases one unit. If a fibre is waiting, the unit is handed to it
// directly via BlockingQueue.Unblock and the counter is left alone;
// otherwise the counter is incremented (§4.4 "baton passing").
func (s *Semaphore) V() {
	s.mu.Lock()
	if s.queue.Unblock() {
		s.mu.Unlock()
		return
	}
	s.count++
	s.mu.Unlock()
}
