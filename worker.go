package fibre

import "runtime"

// haltSignal is the plain binary wakeup a parked Worker blocks on; unlike
// a fibre's baton it is never exposed to fibre code, only to the
// LoadManager (§3 "halt-semaphore").
type haltSignal chan struct{}

func newHaltSignal() haltSignal { return make(haltSignal, 1) }

func (h haltSignal) acquire() { <-h }
func (h haltSignal) release() { h <- struct{}{} }

// Worker is an OS thread bound to one ReadyQueue and one idle loop
// (§3). Its goroutine is pinned with runtime.LockOSThread so thread-
// sensitive fibre code (e.g. a syscall that must run on a specific
// thread) behaves the way it would on a real OS-thread-backed worker.
type Worker struct {
	id      int
	cluster *Cluster
	ready   *ReadyQueue

	halt     haltSignal
	handover *Fibre // set by a producer handing this parked worker a fibre directly

	handback chan struct{} // size-1 baton a running fibre signals to give control back

	current *Fibre // fibre presently activated here; introspection only
}

func newWorker(id int, c *Cluster, kind ReadyQueueKind) *Worker {
	return &Worker{
		id:       id,
		cluster:  c,
		ready:    newReadyQueue(kind),
		halt:     newHaltSignal(),
		handback: make(chan struct{}, 1),
	}
}

// run is the OS-thread loop: pin to the current thread, then idle-loop
// forever until the cluster shuts down.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	w.cluster.eventScope.log.Threads("worker %d started on cluster %q", w.id, w.cluster.name)
	w.idleLoop()
}

// idleLoop implements §4.6's optimistic-decrement scheduling algorithm:
// every iteration first consumes one count from the LoadManager's
// signed readyCount. A non-negative result means a fibre is believed
// available, so the worker runs its local -> stage -> steal selector;
// if that search comes up empty anyway (the fibre it counted already
// drained through someone else's queue), it corrects the counter back
// and retries. A negative result means there is truly nothing to do,
// so the worker parks and waits for a direct handover.
func (w *Worker) idleLoop() {
	for !w.cluster.shuttingDown.Load() {
		if w.cluster.loadManager.tryConsume() {
			f := w.ready.TryLocal()
			if f == nil {
				f = w.cluster.tryStage(w)
			}
			if f == nil {
				f = w.cluster.trySteal(w)
			}
			if f == nil {
				w.cluster.loadManager.correctBack()
				continue
			}
			w.activate(f, switchIdle)
			continue
		}
		if f := w.cluster.loadManager.park(w); f != nil {
			w.activate(f, switchResume)
		}
	}
}

// activate hands this worker's thread of control to f until f yields,
// blocks, or terminates.
func (w *Worker) activate(f *Fibre, code switchCode) {
	f.runningOn = w
	f.owner.Store(w)
	w.current = f
	w.cluster.eventScope.log.Scheduling("worker %d switch <%s> -> fibre %q", w.id, code, f.name)
	if f.started.CompareAndSwap(false, true) {
		go f.trampoline()
	}
	f.baton.signal()
	<-w.handback
	w.current = nil
}

// scheduleYield selects only from the local queue; a local yield never
// steals (§4.2).
func (w *Worker) scheduleYield() *Fibre { return w.ready.TryLocal() }

// scheduleYieldGlobal runs the full selector but never parks.
func (w *Worker) scheduleYieldGlobal() *Fibre {
	if f := w.ready.TryLocal(); f != nil {
		return f
	}
	if f := w.cluster.tryStage(w); f != nil {
		return f
	}
	return w.cluster.trySteal(w)
}

// schedulePreempt behaves like scheduleYieldGlobal except it returns "no
// change" (nil) when there is no currently-running fibre to preempt, so
// the bare idle loop is never treated as preemptable.
func (w *Worker) schedulePreempt(curr *Fibre) *Fibre {
	if curr == nil {
		return nil
	}
	return w.scheduleYieldGlobal()
}
