package fibre

import "sync"

// Barrier blocks target fibres until the last one arrives, then
// releases all of them together; exactly one arriver per cycle gets
// the distinguished "serial" result back, the way pthread_barrier_wait
// designates one caller PTHREAD_BARRIER_SERIAL_THREAD (§4.4).
type Barrier struct {
	mu      sync.Mutex
	target  int
	arrived int
	cond    Condition
	cycle   uint64
}

// NewBarrier creates a Barrier for target arrivers per cycle.
func NewBarrier(target int) *Barrier {
	return &Barrier{target: target}
}

// Wait blocks until target arrivers have called Wait in the same
// cycle, then returns true for exactly one of them (the serial
// arriver) and false for the rest.
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	cycle := b.cycle
	b.arrived++
	if b.arrived == b.target {
		b.arrived = 0
		b.cycle++
		b.cond.Broadcast()
		b.mu.Unlock()
		return true
	}
	for cycle == b.cycle {
		b.cond.Wait(&b.mu)
	}
	b.mu.Unlock()
	return false
}
