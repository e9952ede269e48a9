// Package fibre implements an M:N user-level threading runtime: many
// lightweight, cooperatively scheduled execution contexts ("fibres"),
// each with its own stack, multiplexed across a pool of OS threads
// ("workers") grouped into a Cluster. The runtime provides work-stealing
// scheduling, blocking synchronization primitives (Mutex, Semaphore,
// Condition, RWLock, Barrier, SyncPoint), a deadline-ordered TimerQueue,
// and edge-triggered I/O readiness integration (EventScope) so that a
// blocking-style syscall suspends only the calling fibre.
//
// A Fibre's stack is a goroutine rather than a raw memory region: Go
// gives no portable way to swap machine stacks by hand, so the runtime
// rides the goroutine scheduler underneath its own cooperative one,
// exactly the way the module this package started from avoided hand
// rolled stack switching by parking and readying goroutines directly.
// At most one of a Worker's fibre-goroutines is ever unblocked at a
// time, which reproduces the single-owner-per-worker property the
// scheduler depends on.
package fibre
