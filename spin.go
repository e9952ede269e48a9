package fibre

import "runtime"

// SpinPolicy configures the optional exponential-backoff spin that
// Mutex and Semaphore try before falling back to the BlockingQueue path
// (§4.4 "Optional spin layer"). It is purely an optimization: every
// invariant the BlockingQueue path guarantees still holds with spinning
// disabled (SpinCount == 0).
type SpinPolicy struct {
	SpinStart int // initial Gosched-per-iteration count
	SpinEnd   int // cap on the per-iteration count
	SpinCount int // number of doubling iterations to attempt before blocking
}

// DefaultSpinPolicy mirrors ZenQ's selector busy-wait knobs, scaled down
// from a raw spin loop to runtime.Gosched-based backoff since fibres
// share OS threads cooperatively and a tight spin would starve a
// worker's other fibres.
func DefaultSpinPolicy() SpinPolicy {
	return SpinPolicy{SpinStart: 1, SpinEnd: 1024, SpinCount: 10}
}

// NoSpin disables the spin layer entirely.
func NoSpin() SpinPolicy { return SpinPolicy{} }

// trySpin repeatedly calls attempt, backing off exponentially between
// tries, until attempt reports success or the policy is exhausted.
func (sp SpinPolicy) trySpin(attempt func() bool) bool {
	width := sp.SpinStart
	if width <= 0 {
		return false
	}
	for i := 0; i < sp.SpinCount; i++ {
		for j := 0; j < width; j++ {
			runtime.Gosched()
		}
		if attempt() {
			return true
		}
		width *= 2
		if width > sp.SpinEnd {
			width = sp.SpinEnd
		}
	}
	return false
}
