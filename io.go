package fibre

import (
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// syncIO is the generic lf_io wrapper (§4.8): try fn non-blocking, park
// on the per-direction FD semaphore and retry on EAGAIN, following the
// exact five-step sequence §4.8 lays out. input selects the direction
// (read-side semaphore and the fairness-yield-before-call step;
// write-side wrappers never yield first).
func (es *EventScope) syncIO(input bool, fd int, fn func() (int, error)) (int, error) {
	e := es.registry.ensure(fd)

	// Step 1: explicit user non-blocking mode is a pure passthrough.
	if e.nonblockingByUser {
		return fn()
	}

	// Step 2: yield once before input-side calls for fairness.
	if input {
		if f := Self(); f != nil {
			f.Yield()
		}
	}

	// Step 3: attempt the syscall.
	n, err := fn()
	if !isEAGAIN(err) {
		return n, err
	}

	// Step 4: under lazy registration, arm this direction now (keeping
	// any direction already armed) and retry once unparked.
	dir := PollOutput
	if input {
		dir = PollInput
	}
	if es.registry.mode == FDModeLazy && e.armed&dir == 0 {
		es.armDirection(fd, e, input, e.registered)
		e.registered = true
		n, err = fn()
		if !isEAGAIN(err) {
			return n, err
		}
	}

	// Step 5: park on the per-direction semaphore, retrying fn after
	// every wake, serialized by the per-direction mutex.
	mu, sem := e.directionSync(input)
	mu.Lock()
	defer mu.Unlock()
	for {
		if es.registry.mode == FDModeOneshot {
			es.armDirection(fd, e, input, e.registered)
			e.registered = true
		}
		sem.P()
		if e.closed {
			return -1, ErrClosed
		}
		n, err = fn()
		if !isEAGAIN(err) {
			return n, err
		}
	}
}

func (e *fdEntry) directionSync(input bool) (*sync.Mutex, *Semaphore) {
	if input {
		return &e.readMu, e.readSem
	}
	return &e.writeMu, e.writeSem
}

func (es *EventScope) armDirection(fd int, e *fdEntry, input bool, mod bool) {
	bits := PollOutput
	if input {
		bits = PollInput
	}
	if mod {
		// A modify replaces the registered event set, so keep every
		// direction already armed.
		bits |= e.armed
	}
	_ = es.masterPoll.SetupFD(fd, bits, mod)
	e.armed |= bits
}

func isEAGAIN(err error) bool {
	return err == unix.EAGAIN || err == syscall.EAGAIN
}

// Socket creates a non-blocking socket (§4.8, "lfSocket"). Datagram and
// other non-stream sockets are registered immediately; stream sockets
// defer registration to Listen/Connect, mirroring the original's
// "mandatory for FreeBSD" comment about not registering SOCK_STREAM
// fds before they reach a stable state.
func (es *EventScope) Socket(domain, typ, protocol int) (int, error) {
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK, protocol)
	if err != nil {
		return -1, &SyscallError{Op: "socket", Err: err}
	}
	if typ != unix.SOCK_STREAM {
		es.registry.ensure(fd)
	}
	return fd, nil
}

// Bind binds fd, completing asynchronously via EINPROGRESS where the
// platform requires it (§4.8, §4.4 supplemented "checkAsyncCompletion").
func (es *EventScope) Bind(fd int, sa unix.Sockaddr) error {
	err := unix.Bind(fd, sa)
	if err == nil {
		return nil
	}
	if err == unix.EINPROGRESS {
		return es.checkAsyncCompletion(fd)
	}
	return &SyscallError{Op: "bind", Fd: fd, Err: err}
}

// Connect opens a new connection, parking on the write semaphore once
// if the kernel reports EINPROGRESS (§4.8).
func (es *EventScope) Connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		es.registry.ensure(fd)
		return nil
	}
	if err == unix.EINPROGRESS {
		if cerr := es.checkAsyncCompletion(fd); cerr != nil {
			return cerr
		}
		es.registry.ensure(fd)
		return nil
	}
	return &SyscallError{Op: "connect", Fd: fd, Err: err}
}

// checkAsyncCompletion registers fd immediately, blocks on its write
// semaphore for the connect/bind completion event, then reads SO_ERROR
// (§4 supplemented feature, grounded on EventScope.h's
// checkAsyncCompletion).
func (es *EventScope) checkAsyncCompletion(fd int) error {
	e := es.registry.ensure(fd)
	es.armDirection(fd, e, false, e.registered)
	e.registered = true
	e.writeSem.P()
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return &SyscallError{Op: "getsockopt", Fd: fd, Err: err}
	}
	if soerr != 0 {
		return &SyscallError{Op: "connect", Fd: fd, Err: syscall.Errno(soerr)}
	}
	return nil
}

// Listen sets up the accept queue and registers fd as a server FD only
// after the listen call succeeds (§4.8, mirrors lfListen's comment
// about registering SOCK_STREAM fds after, not at, socket creation).
func (es *EventScope) Listen(fd, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return &SyscallError{Op: "listen", Fd: fd, Err: err}
	}
	es.registry.ensure(fd)
	return nil
}

// Accept blocks until a connection arrives, parking through syncIO like
// any other input-side wrapper, and registers the newly accepted FD
// before returning (§4.8 "accept registers the new FD before
// returning").
func (es *EventScope) Accept(fd int) (int, unix.Sockaddr, error) {
	var newfd int
	var sa unix.Sockaddr
	var acceptErr error
	_, err := es.syncIO(true, fd, func() (int, error) {
		nfd, nsa, aerr := unix.Accept4(fd, unix.SOCK_NONBLOCK)
		if aerr != nil {
			acceptErr = aerr
			return -1, aerr
		}
		newfd, sa, acceptErr = nfd, nsa, nil
		return nfd, nil
	})
	if err != nil {
		return -1, nil, &SyscallError{Op: "accept4", Fd: fd, Err: err}
	}
	es.registry.ensure(newfd)
	return newfd, sa, nil
}

// TryAccept is a non-blocking accept for draining the listen queue
// without going through the park/retry machinery (§4 supplemented
// feature "lfTryAccept").
func (es *EventScope) TryAccept(fd int) (int, unix.Sockaddr, error) {
	newfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, nil, &SyscallError{Op: "accept4", Fd: fd, Err: err}
	}
	es.registry.ensure(newfd)
	return newfd, sa, nil
}

// Dup clones fd and registers the new one.
func (es *EventScope) Dup(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, &SyscallError{Op: "dup", Fd: fd, Err: err}
	}
	es.registry.ensure(nfd)
	return nfd, nil
}

// Pipe creates a non-blocking pipe and registers both ends.
func (es *EventScope) Pipe() (r, w int, err error) {
	var fds [2]int
	if perr := unix.Pipe2(fds[:], unix.O_NONBLOCK); perr != nil {
		return -1, -1, &SyscallError{Op: "pipe2", Err: perr}
	}
	es.registry.ensure(fds[0])
	es.registry.ensure(fds[1])
	return fds[0], fds[1], nil
}

// Send writes to fd, yielding through the write-side path (no yield
// before the call, per §4.8 "for output-side wrappers do not").
func (es *EventScope) Send(fd int, buf []byte, flags int) (int, error) {
	n, err := es.syncIO(false, fd, func() (int, error) {
		return unix.Write(fd, buf)
	})
	if err != nil {
		return n, &SyscallError{Op: "write", Fd: fd, Err: err}
	}
	return n, nil
}

// Recv reads from fd, yielding once first for fairness (input-side).
func (es *EventScope) Recv(fd int, buf []byte) (int, error) {
	n, err := es.syncIO(true, fd, func() (int, error) {
		return unix.Read(fd, buf)
	})
	if err != nil {
		return n, &SyscallError{Op: "read", Fd: fd, Err: err}
	}
	return n, nil
}

// Fcntl mirrors the original's bookkeeping fcntl wrapper: every socket
// is kept kernel-non-blocking internally, but the user's own O_NONBLOCK
// intent is tracked separately so syncIO knows to skip the parking path
// entirely for fds the user explicitly wants non-blocking (§4.8 step 1).
func (es *EventScope) Fcntl(fd, cmd, flags int) (int, error) {
	ret, err := unix.FcntlInt(uintptr(fd), cmd, flags|unix.O_NONBLOCK)
	if err != nil {
		return -1, &SyscallError{Op: "fcntl", Fd: fd, Err: err}
	}
	e := es.registry.ensure(fd)
	e.nonblockingByUser = flags&unix.O_NONBLOCK != 0
	return ret, nil
}

// Close deregisters fd from its poller then invokes the kernel close
// (§4.8 "Close deregisters the FD first, then invokes the kernel
// close").
func (es *EventScope) Close(fd int) error {
	es.registry.Close(fd)
	if err := unix.Close(fd); err != nil {
		return &SyscallError{Op: "close", Fd: fd, Err: err}
	}
	return nil
}
