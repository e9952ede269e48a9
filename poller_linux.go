//go:build linux

package fibre

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux edge-triggered Poller (§4.7), grounded on the
// epoll wiring pattern from the retrieval pack's poller_linux.go but
// carrying a *Registry instead of per-FD callbacks: events resolve to
// registry.unblock calls rather than inline callback dispatch, since
// readiness here always means "wake a parked fibre", never "run
// arbitrary user code on the poller thread".
type epollPoller struct {
	pollerBase
	epfd  int
	evbuf [pollBatch]unix.EpollEvent
}

func newPlatformPoller(registry *Registry) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &SyscallError{Op: "epoll_create1", Err: err}
	}
	return &epollPoller{pollerBase: pollerBase{registry: registry}, epfd: epfd}, nil
}

func (p *epollPoller) SetupFD(fd int, bits PollBits, mod bool) error {
	ev := unix.EpollEvent{Events: unix.EPOLLET | bitsToEpoll(bits), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if mod {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return &SyscallError{Op: "epoll_ctl", Fd: fd, Err: err}
	}
	return nil
}

func (p *epollPoller) ResetFD(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Poll(blocking bool) (int, error) {
	timeout := 0
	if blocking {
		timeout = -1
	}
	n, err := unix.EpollWait(p.epfd, p.evbuf[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &SyscallError{Op: "epoll_wait", Err: err}
	}
	for i := 0; i < n; i++ {
		ev := p.evbuf[i]
		p.registry.unblock(int(ev.Fd), epollToBits(ev.Events))
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func bitsToEpoll(bits PollBits) uint32 {
	var ev uint32
	if bits&PollInput != 0 {
		ev |= unix.EPOLLIN
	}
	if bits&PollOutput != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollToBits(ev uint32) PollBits {
	var bits PollBits
	if ev&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		bits |= PollInput
	}
	if ev&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		bits |= PollOutput
	}
	return bits
}

// platformTimerFD arms the master timer using timerfd, the Linux
// analogue of the kqueue EVFILT_TIMER path (§4.9, the "OS-level timer"
// the TimerQueue re-arms against).
type platformTimerFD struct {
	fd int
}

func newPlatformTimerFD() (*platformTimerFD, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, &SyscallError{Op: "timerfd_create", Err: err}
	}
	return &platformTimerFD{fd: fd}, nil
}

func (t *platformTimerFD) arm(d time.Duration) {
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	_ = unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

func (t *platformTimerFD) fd_() int { return t.fd }
