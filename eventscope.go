package fibre

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// EventScope owns the descriptor registry, the master timer poller, the
// timer queue, the default Cluster, and any disk-I/O Cluster (§3, §4.9).
type EventScope struct {
	log *logger

	registry   *Registry
	timerQueue *TimerQueue
	timerFD    *platformTimerFD
	masterPoll Poller

	mainCluster *Cluster
	diskCluster *Cluster
	mainFibre   *Fibre

	debugMu   sync.Mutex
	debugHead *Fibre // doubly-linked via Fibre.debugLink, for introspection only

	cfg *bootstrapConfig
}

// Bootstrap creates an EventScope: master poller, default cluster with
// cfg.workerCount newly started workers, then the master poll loop
// (§4.9 "Bootstrap"). The calling goroutine does not become one of the
// cluster's workers; it returns and keeps running outside the cluster.
func Bootstrap(opts ...Option) (*EventScope, error) {
	cfg := resolveBootstrapConfig(opts)

	es := &EventScope{
		log: newLogger(cfg.debug),
		cfg: cfg,
	}

	limit := fdLimit()
	es.mainCluster = newCluster(es, "main", cfg.readyQueueKind)
	es.registry = newRegistry(limit, cfg.fdMode, nil, es.mainCluster)

	poller, err := newPlatformPoller(es.registry)
	if err != nil {
		return nil, err
	}
	es.masterPoll = poller
	es.registry.poller = poller

	timerFD, err := newPlatformTimerFD()
	if err != nil {
		return nil, err
	}
	es.timerFD = timerFD
	es.timerQueue = newTimerQueue(timerFD.arm)
	if err := poller.SetupFD(timerFD.fd_(), PollInput, false); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.workerCount; i++ {
		es.mainCluster.AddWorker(nil)
	}

	go es.masterPollLoop()

	es.log.Basic("event scope bootstrapped: workers=%d pollers=%d fdMode=%d", cfg.workerCount, cfg.pollerCount, cfg.fdMode)
	return es, nil
}

// masterPollLoop runs on its own goroutine for the life of the
// EventScope, the Go analogue of the master poller's dedicated OS
// thread (§4.7 "Master poller: one per EventScope, runs on a dedicated
// OS thread").
func (es *EventScope) masterPollLoop() {
	for !es.mainCluster.shuttingDown.Load() {
		if _, err := es.masterPoll.Poll(true); err != nil {
			es.log.Warning("master poller error: %v", err)
		}
		now := time.Now()
		if hasMore, next := es.timerQueue.CheckExpiry(now); hasMore {
			es.timerFD.arm(next)
		}
	}
}

// Clone creates a new EventScope with its own main cluster and single
// worker, and starts mainFunc on it as a background fibre (§4.9 "Clone
// (fork-like split)"). On Linux, unshare(CLONE_FILES) is performed by
// the OS thread the calling goroutine is running on, before the new
// scope's FD table is initialized; the new worker's own thread does not
// unshare.
func Clone(mainFunc func(), opts ...Option) (*EventScope, error) {
	opts = append(opts[:len(opts):len(opts)], WithWorkerCount(1))
	es, err := BootstrapUnshared(opts...)
	if err != nil {
		return nil, err
	}
	es.mainFibre = StartBackground(es.mainCluster, "main", mainFunc)
	return es, nil
}

// BootstrapUnshared is Bootstrap with the unshare-file-descriptors step
// applied first where the platform supports it.
func BootstrapUnshared(opts ...Option) (*EventScope, error) {
	unshareFiles()
	return Bootstrap(opts...)
}

// Join waits for a cloned EventScope's main fibre to finish (§4.9
// "Wait for the main routine of a cloned event scope").
func (es *EventScope) Join() {
	if es.mainFibre != nil {
		es.mainFibre.Join()
	}
}

// MainCluster returns the default Cluster every Bootstrap call creates,
// the one most fibres run on unless a caller creates its own via
// AddDiskCluster or a separate Bootstrap (§6.1 public surface).
func (es *EventScope) MainCluster() *Cluster { return es.mainCluster }

// AddDiskCluster creates the optional disk-I/O cluster used for system
// calls that cannot be monitored by the readiness multiplexer (file
// I/O on Linux) and must instead run on dedicated workers.
func (es *EventScope) AddDiskCluster(workerCount int) *Cluster {
	if es.diskCluster != nil {
		abort("EventScope.AddDiskCluster", "disk cluster already created")
	}
	es.diskCluster = newCluster(es, "disk", es.cfg.readyQueueKind)
	for i := 0; i < workerCount; i++ {
		es.diskCluster.AddWorker(nil)
	}
	return es.diskCluster
}

// Restart is the closest faithful Go analogue of preFork/postFork:
// Go processes cannot safely fork past exec, so there is no literal
// pre_fork/post_fork pair here. Restart tears down and recreates the
// master poller, timer queue, and FD table bookkeeping while
// preserving already-open descriptors, for a process that wants to
// discard pending async I/O state and start over without re-executing
// (§4.9 "Fork support", supplemented per the distilled spec's silence
// on a literal fork()).
func (es *EventScope) Restart() error {
	if es.mainCluster.WorkerCount() != 1 {
		abort("EventScope.Restart", "restart requires exactly one worker, matching pre_fork's single-worker assertion")
	}
	_ = es.masterPoll.Close()
	poller, err := newPlatformPoller(es.registry)
	if err != nil {
		return err
	}
	es.masterPoll = poller
	es.registry.poller = poller
	timerFD, err := newPlatformTimerFD()
	if err != nil {
		return err
	}
	es.timerFD = timerFD
	es.timerQueue = newTimerQueue(timerFD.arm)
	if err := poller.SetupFD(timerFD.fd_(), PollInput, false); err != nil {
		return err
	}
	go es.masterPollLoop()
	return nil
}

func (es *EventScope) trackFibre(f *Fibre) {
	es.debugMu.Lock()
	f.debugLink.next = es.debugHead
	if es.debugHead != nil {
		es.debugHead.debugLink.prev = f
	}
	es.debugHead = f
	es.debugMu.Unlock()
}

func (es *EventScope) untrackFibre(f *Fibre) {
	es.debugMu.Lock()
	if f.debugLink.prev != nil {
		f.debugLink.prev.debugLink.next = f.debugLink.next
	} else if es.debugHead == f {
		es.debugHead = f.debugLink.next
	}
	if f.debugLink.next != nil {
		f.debugLink.next.debugLink.prev = f.debugLink.prev
	}
	es.debugMu.Unlock()
}

func fdLimit() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 65536
	}
	return int(rlim.Cur)
}
