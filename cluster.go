package fibre

import (
	"sync"
	"sync/atomic"
)

// Cluster is a ring of Workers sharing a placement cursor, a staging
// pseudo-worker queue, and a LoadManager (§3, §4.2). The ring lock
// guards worker addition/removal/pause/resume and the round-robin
// cursor (§5 "the cluster ring lock").
type Cluster struct {
	eventScope *EventScope
	name       string

	ringMu  sync.RWMutex
	workers []*Worker
	cursor  int

	staging     *ReadyQueue
	loadManager *LoadManager

	shuttingDown atomic.Bool

	queueKind ReadyQueueKind

	pauseMu sync.Mutex
}

func newCluster(es *EventScope, name string, kind ReadyQueueKind) *Cluster {
	return &Cluster{
		eventScope:  es,
		name:        name,
		staging:     newReadyQueue(kind),
		loadManager: newLoadManager(),
		queueKind:   kind,
	}
}

// AddWorker starts a new OS-thread-bound Worker and adds it to the ring.
// init, if non-nil, runs on the new worker's goroutine before that
// goroutine pins itself to an OS thread and enters the idle loop (§6.1
// "add-worker(init-fn, arg)").
func (c *Cluster) AddWorker(init func()) *Worker {
	c.ringMu.Lock()
	w := newWorker(len(c.workers), c, c.queueKind)
	c.workers = append(c.workers, w)
	c.ringMu.Unlock()

	go func() {
		if init != nil {
			init()
		}
		w.run()
	}()
	return w
}

// WorkerCount reports the number of workers currently in the ring.
func (c *Cluster) WorkerCount() int {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()
	return len(c.workers)
}

// WorkerIDs reports the ids of every worker currently in the ring.
func (c *Cluster) WorkerIDs() []int {
	c.ringMu.RLock()
	defer c.ringMu.RUnlock()
	ids := make([]int, len(c.workers))
	for i, w := range c.workers {
		ids[i] = w.id
	}
	return ids
}

// placement picks the next worker in round-robin order under the ring
// lock (§4.2 "Placement"). fixed is accepted for symmetry with the
// original signature but does not change the policy: Fixed affinity
// only ever restricts future migration, never initial placement.
func (c *Cluster) placement(fixed bool) *Worker {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	if len(c.workers) == 0 {
		abort("Cluster.placement", "cluster has no workers")
	}
	w := c.workers[c.cursor%len(c.workers)]
	c.cursor++
	return w
}

// tryStage pops a fibre from the staging pseudo-worker's queue, if any,
// and adopts w as its new owner unless it carries Fixed affinity (§4.2
// "these fibres then adopt the current worker as owner, unless they
// have Fixed affinity").
func (c *Cluster) tryStage(w *Worker) *Fibre {
	f := c.staging.TryLocal()
	if f == nil {
		return nil
	}
	if f.affinity != AffinityFixed {
		f.owner.Store(w)
	}
	return f
}

// trySteal asks every other worker's ready queue for a fibre, starting
// just past self in ring order, skipping Fixed-affinity fibres (handled
// inside ReadyQueue.TrySteal itself).
func (c *Cluster) trySteal(self *Worker) *Fibre {
	c.ringMu.RLock()
	workers := c.workers
	c.ringMu.RUnlock()
	n := len(workers)
	if n <= 1 {
		return nil
	}
	for i := 1; i < n; i++ {
		w := workers[(self.id+i)%n]
		if w == self {
			continue
		}
		if f := w.ready.TrySteal(); f != nil {
			return f
		}
	}
	return nil
}

// placeAndEnqueue is used for a fibre's first-ever scheduling. A
// background fibre is handed to a parked worker if one is waiting and
// otherwise goes to the staging queue; everything else is placed via
// the round-robin ring and enqueued there (§4.2 "Placement").
func (c *Cluster) placeAndEnqueue(f *Fibre, background bool) {
	if background {
		f.owner.Store(nil)
		if popped := c.loadManager.noteRunnable(); popped != nil {
			popped.handover = f
			popped.halt.release()
			return
		}
		c.staging.Push(f)
		return
	}
	w := c.placement(f.affinity == AffinityFixed)
	f.owner.Store(w)
	c.enqueueRunnable(f, w)
}

// enqueueRunnable notifies the LoadManager and makes f runnable: if a
// worker is parked it is handed f directly, otherwise f is pushed onto
// its owner's ready queue. Fixed-affinity fibres must land on their
// pre-set owner specifically (e.g. a Cluster.Pause stop-fibre targeting
// one exact worker), so they bypass the LoadManager's "hand to any parked
// worker" shortcut and go straight onto that worker's queue; an idle
// parked worker will still be woken by noteRunnable's bookkeeping, it
// just won't be handed this fibre directly unless it happens to be the
// very worker the fibre is pinned to.
func (c *Cluster) enqueueRunnable(f *Fibre, owner *Worker) {
	popped := c.loadManager.noteRunnable()
	if f.affinity == AffinityFixed {
		if popped == owner {
			owner.handover = f
			owner.halt.release()
			return
		}
		owner.ready.Push(f)
		if popped != nil {
			// Some other worker woke up for nothing it can claim;
			// give it back a no-op wakeup chance by letting its own
			// idle loop retry tryConsume naturally. It already holds
			// no fibre (handover was never set for it), so release
			// its halt with an empty handover and let it re-enter
			// tryConsume on the next loop iteration.
			popped.handover = nil
			popped.halt.release()
		}
		return
	}
	if popped != nil {
		popped.handover = f
		popped.halt.release()
		return
	}
	owner.ready.Push(f)
}

// enqueueResumed is called by Fibre.enqueueSelf: the fibre's own owner
// hint (set at last placement/migration) decides which queue it lands
// back on.
func (c *Cluster) enqueueResumed(f *Fibre) {
	w := f.owner.Load()
	if w == nil {
		w = c.placement(false)
		f.owner.Store(w)
	}
	c.enqueueRunnable(f, w)
}

// enqueueYield re-enqueues a yielding fibre onto the same worker it was
// already running on, at the back of its priority lane (§4.2 switchYield
// post_fn never steals or migrates).
func (c *Cluster) enqueueYield(f *Fibre, w *Worker) {
	w.ready.Push(f)
	c.loadManager.bumpOnly()
}

// Pause stops the world within this cluster: a top-priority,
// Fixed-affinity stop-fibre is enqueued on every other worker in the
// ring (every worker, when the caller is not a fibre); once every one
// of them has confirmed on a buffered channel, the calling goroutine is
// effectively alone on the cluster (§5 "Pause/Resume"). Resume must be
// called to release the stopped workers; Pause is a maintenance
// primitive, never a hot path.
func (c *Cluster) Pause() *PauseToken {
	c.pauseMu.Lock()
	c.ringMu.RLock()
	workers := append([]*Worker(nil), c.workers...)
	c.ringMu.RUnlock()

	var host *Worker
	if self := Self(); self != nil {
		host = self.runningOn
	}
	confirm := make(chan struct{}, len(workers))
	resumeCh := make(chan struct{})
	n := 0
	for _, w := range workers {
		w := w
		if w == host {
			continue
		}
		stop := NewFibre(FibreAttrs{Priority: PriorityTop, Affinity: AffinityFixed, Name: "pause-stop", Cluster: c})
		stop.owner.Store(w)
		stop.entry = func() {
			confirm <- struct{}{}
			<-resumeCh
		}
		c.enqueueRunnable(stop, w)
		n++
	}
	for i := 0; i < n; i++ {
		<-confirm
	}
	return &PauseToken{resumeCh: resumeCh}
}

// PauseToken is returned by Cluster.Pause and released by calling
// Resume exactly once.
type PauseToken struct {
	resumeCh  chan struct{}
	resumed   atomic.Bool
}

// Resume releases every worker parked by the matching Pause call.
func (t *PauseToken) Resume() {
	if t.resumed.CompareAndSwap(false, true) {
		close(t.resumeCh)
	}
}

// Destroy marks the cluster as shutting down; idle loops observe this
// on their next iteration and return, letting their goroutines exit
// (§6.1 "destroy").
func (c *Cluster) Destroy() {
	c.shuttingDown.Store(true)
	c.ringMu.RLock()
	workers := c.workers
	c.ringMu.RUnlock()
	for _, w := range workers {
		select {
		case w.halt <- struct{}{}:
		default:
		}
	}
}
