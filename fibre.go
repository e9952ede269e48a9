package fibre

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

// Priority is one of the three scheduling priorities a Fibre can run at
// (§3). Strictly higher priorities drain first out of a ReadyQueue; FIFO
// within a priority.
type Priority uint8

const (
	PriorityTop Priority = iota
	PriorityDefault
	PriorityLow
	numPriorities = int(PriorityLow) + 1
)

// Affinity controls whether the scheduler is allowed to move a Fibre
// between workers.
type Affinity uint8

const (
	AffinityDefault Affinity = iota
	AffinityFixed
)

// runState values, as a signed resume/suspend counter starting at
// Running (§4.3).
const (
	stateParked       int32 = 0
	stateRunning      int32 = 1
	stateResumedEarly int32 = 2
)

// readyLink is the intrusive link a Fibre uses to sit on exactly one
// ReadyQueue lane at a time (§9 "intrusive link fields... tagged by
// role"). It never owns the Fibre it links.
type readyLink struct {
	next atomic.Pointer[Fibre]
}

// debugLink optionally threads every live Fibre onto its EventScope's
// introspection list.
type debugLink struct {
	prev, next *Fibre
}

// Fibre is a cooperatively scheduled execution context backed by its own
// goroutine (§3). Exactly one of {on a ready queue, running on a worker,
// parked on a BlockingQueue/TimerQueue, terminated} holds at any instant.
type Fibre struct {
	baton baton
	done  chan struct{}

	runState   atomic.Int32
	resumeInfo unsafe.Pointer // swapped via atomic.*Pointer; see raceResume

	priority Priority
	affinity Affinity

	owner    atomic.Pointer[Worker] // scheduling hint: next/likely queue
	runningOn *Worker                // worker presently hosting this fibre; written only by that worker, read only by this fibre's own goroutine

	cluster *Cluster

	readyLink readyLink
	debugLink debugLink

	name string

	specMu sync.Mutex
	spec   map[any]any

	entry func()

	started    atomic.Bool
	terminated atomic.Bool
	detached   atomic.Bool
}

// FibreAttrs configures a new Fibre (§6.1 "create(attrs)").
type FibreAttrs struct {
	Priority Priority
	Affinity Affinity
	Name     string
	Cluster  *Cluster
}

// NewFibre allocates a Fibre bound to a Cluster but does not schedule it;
// call Start to install the entry point and enqueue it as runnable.
func NewFibre(attrs FibreAttrs) *Fibre {
	if attrs.Cluster == nil {
		abort("NewFibre", "attrs.Cluster must not be nil")
	}
	f := &Fibre{
		baton:   newBaton(),
		done:    make(chan struct{}),
		priority: attrs.Priority,
		affinity: attrs.Affinity,
		name:     attrs.Name,
		cluster:  attrs.Cluster,
		spec:     make(map[any]any),
	}
	f.runState.Store(stateRunning)
	attrs.Cluster.eventScope.trackFibre(f)
	return f
}

// Start installs entry and enqueues the fibre as runnable (§6.1
// "start(entry, args)"; args are captured by the closure the caller
// passes instead of a varargs slice, which is the idiomatic Go shape).
func (f *Fibre) Start(entry func()) *Fibre {
	f.entry = entry
	f.cluster.placeAndEnqueue(f, false)
	return f
}

// StartBackground creates and starts a low-priority, unpinned fibre that
// lands on the cluster's staging queue rather than a specific worker
// (§4.2 "Background fibres... go to the staging pseudo-worker").
func StartBackground(cluster *Cluster, name string, entry func()) *Fibre {
	f := NewFibre(FibreAttrs{Priority: PriorityLow, Cluster: cluster, Name: name})
	f.entry = entry
	cluster.placeAndEnqueue(f, true)
	return f
}

// Join blocks the calling goroutine (fibre or not) until f's entry
// function returns.
func (f *Fibre) Join() { <-f.done }

// Detach marks the fibre as not needing to be joined; its resources are
// still reclaimed normally when it terminates.
func (f *Fibre) Detach() { f.detached.Store(true) }

func (f *Fibre) Name() string          { return f.name }
func (f *Fibre) Priority_() Priority   { return f.priority }
func (f *Fibre) Terminated() bool      { return f.terminated.Load() }

// GetSpecific/SetSpecific/DeleteSpecific give callers a per-fibre key/value
// slot (§6.1). The elaborate destructor-invoking key-table machinery of
// the original pthread-style facade is explicitly out of scope (§1); this
// is the interface the core itself needs, not that subsystem.
func (f *Fibre) GetSpecific(key any) any {
	f.specMu.Lock()
	defer f.specMu.Unlock()
	return f.spec[key]
}

func (f *Fibre) SetSpecific(key, val any) {
	f.specMu.Lock()
	defer f.specMu.Unlock()
	f.spec[key] = val
}

func (f *Fibre) DeleteSpecific(key any) {
	f.specMu.Lock()
	defer f.specMu.Unlock()
	delete(f.spec, key)
}

// Yield gives up the worker while remaining runnable, re-entering at the
// back of its own priority lane (§4.2 switchYield post_fn). A local yield
// never steals: the same worker's idle loop will consider it again right
// after considering everything else already queued.
func (f *Fibre) Yield() {
	w := f.runningOn
	w.cluster.enqueueYield(f, w)
	w.handback <- struct{}{}
	f.baton.wait()
}

// yieldForce re-enqueues f on target through c, hands the worker it is
// running on back unconditionally, and parks until reactivated; used by
// migration.
func (f *Fibre) yieldForce(c *Cluster, target *Worker) {
	w := f.runningOn
	c.enqueueRunnable(f, target)
	w.handback <- struct{}{}
	f.baton.wait()
}

// MigrateNow moves the fibre to a worker chosen by c's placement policy
// (§4.2 "migrateNow(scheduler)"). Fixed-affinity fibres silently skip
// migration, here as in MigrateLocal.
func (f *Fibre) MigrateNow(c *Cluster) {
	if f.affinity == AffinityFixed {
		return
	}
	w := c.placement(false)
	f.owner.Store(w)
	f.cluster = c
	f.yieldForce(c, w)
}

// MigrateLocal moves the fibre to a specific worker within its current
// cluster: w becomes its owner and it is re-enqueued there, unless a
// worker is parked at that moment, in which case the parked worker is
// handed the fibre directly. Fixed-affinity fibres are left alone.
func (f *Fibre) MigrateLocal(w *Worker) {
	if f.affinity == AffinityFixed {
		return
	}
	f.owner.Store(w)
	f.yieldForce(f.cluster, w)
}

// suspendSelf installs owner into resumeInfo for resume-race arbitration,
// fetch-subtracts runState, and either re-enqueues immediately (a resume
// already arrived) or actually parks on its own baton (§4.3).
func (f *Fibre) suspendSelf(owner unsafe.Pointer) {
	atomic.StorePointer(&f.resumeInfo, owner)
	newState := f.runState.Add(-1)
	if newState+1 == stateResumedEarly {
		f.enqueueSelf()
	}
	w := f.runningOn
	w.handback <- struct{}{}
	f.baton.wait()
}

// suspendSelfUnlock installs owner into resumeInfo, releases lock (the
// caller's synchronization-object lock, already held), then suspends.
// Splitting the unlock from the park this way is what lets a resume
// arrive concurrently with the suspend attempt, which is exactly the
// race runState/resumeInfo exist to arbitrate (§4.4 "push the current
// fibre; release the lock; suspend").
func (f *Fibre) suspendSelfUnlock(owner unsafe.Pointer, lock sync.Locker) {
	atomic.StorePointer(&f.resumeInfo, owner)
	lock.Unlock()
	newState := f.runState.Add(-1)
	if newState+1 == stateResumedEarly {
		f.enqueueSelf()
	}
	w := f.runningOn
	w.handback <- struct{}{}
	f.baton.wait()
}

// resume fetch-adds runState; if the fibre was Parked it is now made
// runnable, otherwise the resume is absorbed into ResumedEarly and the
// fibre currently mid-suspend will observe it itself (§4.3).
func (f *Fibre) resume() {
	newState := f.runState.Add(1)
	if newState-1 == stateParked {
		f.enqueueSelf()
	}
}

// raceResume atomically exchanges resumeInfo with nil and returns the
// previous value; only the caller that receives a non-nil value may
// proceed to call resume (§4.3, §8 "no double resume").
func (f *Fibre) raceResume() unsafe.Pointer {
	return atomic.SwapPointer(&f.resumeInfo, nil)
}

func (f *Fibre) enqueueSelf() {
	f.cluster.enqueueResumed(f)
}

// trampoline is the body every fibre goroutine runs: park until first
// activated, register as Self for the duration of entry, then terminate.
func (f *Fibre) trampoline() {
	f.baton.wait()
	registerSelf(f)
	defer f.finish()
	f.entry()
}

func (f *Fibre) finish() {
	unregisterSelf()
	f.terminated.Store(true)
	f.cluster.eventScope.untrackFibre(f)
	close(f.done)
	w := f.runningOn
	w.cluster.eventScope.log.Scheduling("fibre %q terminate on worker %d", f.name, w.id)
	w.handback <- struct{}{}
}

// Sleep parks the calling fibre until d has elapsed (§6.1 "sleep
// (duration)"). Called from a goroutine that is not a fibre, it falls
// back to time.Sleep.
func Sleep(d time.Duration) {
	f := Self()
	if f == nil {
		time.Sleep(d)
		return
	}
	f.cluster.eventScope.timerQueue.sleep(f, d)
}
