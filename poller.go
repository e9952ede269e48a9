package fibre

// pollBatch bounds how many readiness events a single Poll call drains
// at once (§4.7 "drain up to a fixed batch").
const pollBatch = 1024

// Poller wraps the platform's edge-triggered readiness multiplexer
// behind one interface shared by the master poller, cluster pollers,
// and the optional worker poller (§4.7).
type Poller interface {
	// SetupFD arms readiness for bits on fd. mod=true requests a
	// modify of an existing registration (needed to re-arm oneshot).
	SetupFD(fd int, bits PollBits, mod bool) error
	// ResetFD best-effort removes fd's registration.
	ResetFD(fd int)
	// Poll drains up to pollBatch readiness events, dispatching each to
	// the registry via unblock<Input|Output>. blocking selects whether
	// to wait for at least one event or return immediately with zero.
	Poll(blocking bool) (eventCount int, err error)
	// Close releases the poller's own kernel resources (the epoll/kqueue
	// fd itself).
	Close() error
}

// pollerBase holds the registry every platform poller dispatches
// readiness into; embedded by the platform-specific pollers instead of
// duplicated.
type pollerBase struct {
	registry *Registry
}
