//go:build darwin

package fibre

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the Darwin/BSD edge-triggered Poller (§4.7). There is
// no unix.SetKevent helper in golang.org/x/sys/unix (verified against
// the vendored source), so Kevent_t values are built as plain struct
// literals instead.
type kqueuePoller struct {
	pollerBase
	kq    int
	evbuf [pollBatch]unix.Kevent_t
}

func newPlatformPoller(registry *Registry) (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, &SyscallError{Op: "kqueue", Err: err}
	}
	return &kqueuePoller{pollerBase: pollerBase{registry: registry}, kq: kq}, nil
}

func (p *kqueuePoller) SetupFD(fd int, bits PollBits, mod bool) error {
	var changes []unix.Kevent_t
	if bits&PollInput != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR,
		})
	}
	if bits&PollOutput != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return &SyscallError{Op: "kevent", Fd: fd, Err: err}
	}
	return nil
}

func (p *kqueuePoller) ResetFD(fd int) {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, _ = unix.Kevent(p.kq, changes, nil, nil)
}

func (p *kqueuePoller) Poll(blocking bool) (int, error) {
	var timeout *unix.Timespec
	if !blocking {
		ts := unix.NsecToTimespec(0)
		timeout = &ts
	}
	n, err := unix.Kevent(p.kq, nil, p.evbuf[:], timeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, &SyscallError{Op: "kevent", Err: err}
	}
	for i := 0; i < n; i++ {
		ev := p.evbuf[i]
		var bits PollBits
		switch ev.Filter {
		case unix.EVFILT_READ:
			bits = PollInput
		case unix.EVFILT_WRITE:
			bits = PollOutput
		default:
			continue
		}
		p.registry.unblock(int(ev.Ident), bits)
	}
	return n, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}

// platformTimerFD arms the master timer via an EVFILT_TIMER entry on a
// kqueue instance of its own, separate from the poller's kqueue; that
// kqueue's descriptor is what EventScope registers with the master
// poller, since kqueue has no distinct timerfd-equivalent descriptor.
type platformTimerFD struct {
	kq int
}

func newPlatformTimerFD() (*platformTimerFD, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, &SyscallError{Op: "kqueue", Err: err}
	}
	return &platformTimerFD{kq: kq}, nil
}

func (t *platformTimerFD) arm(d time.Duration) {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	change := unix.Kevent_t{
		Ident: 1, Filter: unix.EVFILT_TIMER, Flags: unix.EV_ADD | unix.EV_ONESHOT,
		Data: ms,
	}
	_, _ = unix.Kevent(t.kq, []unix.Kevent_t{change}, nil, nil)
}

func (t *platformTimerFD) fd_() int { return t.kq }
