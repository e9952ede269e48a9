package fibre

import "sync"

// LoadManager is the idle-worker parking mechanism (§4.6). readyCount
// tracks (runnable fibres not yet consumed) minus (workers currently
// parked); both producers and consumers adjust it under the same lock
// that protects the parked-worker list (§5), so this is the one
// scheduling structure in the package that is
// deliberately not lock-free.
type LoadManager struct {
	mu         sync.Mutex
	readyCount int64
	parked     []*Worker
}

func newLoadManager() *LoadManager { return &LoadManager{} }

// noteRunnable records one newly runnable fibre. If a worker is already
// parked it is popped and returned so the caller can hand the fibre to
// it directly via Worker.handover, skipping a ready-queue round trip.
func (lm *LoadManager) noteRunnable() *Worker {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.readyCount++
	if len(lm.parked) == 0 {
		return nil
	}
	n := len(lm.parked) - 1
	w := lm.parked[n]
	lm.parked[n] = nil
	lm.parked = lm.parked[:n]
	return w
}

// bumpOnly records a newly runnable fibre without consulting the parked
// list, used when a yielding fibre goes back onto the queue of the
// worker that was running it, which picks it up again itself.
func (lm *LoadManager) bumpOnly() {
	lm.mu.Lock()
	lm.readyCount++
	lm.mu.Unlock()
}

// tryConsume is the optimistic decrement every idle-loop iteration
// performs before searching its queues: a non-negative result means a
// fibre is believed available somewhere and the caller should run its
// local/stage/steal selector; a negative result means nothing is
// available and the caller should park instead.
func (lm *LoadManager) tryConsume() bool {
	lm.mu.Lock()
	lm.readyCount--
	ok := lm.readyCount >= 0
	lm.mu.Unlock()
	return ok
}

// correctBack undoes a tryConsume whose optimistic selector search came
// up empty (the fibre it counted lived on a queue that drained first).
func (lm *LoadManager) correctBack() {
	lm.mu.Lock()
	lm.readyCount++
	lm.mu.Unlock()
}

// park registers w as idle and blocks until a producer hands it a fibre
// directly via noteRunnable. Callers must have already lost a
// tryConsume race (readyCount went negative) before calling this.
func (lm *LoadManager) park(w *Worker) *Fibre {
	lm.mu.Lock()
	lm.parked = append(lm.parked, w)
	lm.mu.Unlock()
	w.cluster.eventScope.log.Scheduling("worker %d parking on load manager", w.id)
	w.halt.acquire()
	f := w.handover
	w.handover = nil
	return f
}

// ReadyCount reports the current signed counter, exposed for tests and
// introspection.
func (lm *LoadManager) ReadyCount() int64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.readyCount
}
