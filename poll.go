package adns

import (
	"time"

	"golang.org/x/sys/unix"
)

// PollEvents is a bitmask of readiness conditions, mirroring POLLIN/POLLOUT/
// POLLPRI without exposing the raw poll(2) constants in the public API
// (spec.md §4.4 "Event-loop interfaces").
type PollEvents uint8

const (
	PollIn PollEvents = 1 << iota
	PollOut
	PollPri
)

// PollFd is one entry of the array-of-pollfd readiness-set form.
type PollFd struct {
	FD     int
	Events PollEvents // requested (BeforePoll) or observed (AfterPoll)
}

// enumerateFDs is the one primitive both readiness-set forms are built on
// (spec.md §4.4): every fd the resolver currently cares about, and which
// conditions it wants to watch.
func (r *Resolver) enumerateFDs() []PollFd {
	fds := []PollFd{{FD: r.eng.UDPFD(), Events: PollIn}}
	if tfd := r.eng.TCPFD(); tfd >= 0 {
		ev := PollIn | PollPri
		if r.eng.TCPWantWrite() {
			ev |= PollOut
		}
		fds = append(fds, PollFd{FD: tfd, Events: ev})
	}
	return fds
}

// BeforePoll returns the fds to watch and the timeout (nil if the resolver
// has no in-flight query) for a poll(2)-based event loop, per spec.md §4.4
// `adns_beforepoll`.
func (r *Resolver) BeforePoll() ([]PollFd, *time.Duration) {
	fds := r.enumerateFDs()
	now, ok := r.eng.FirstTimeoutNow()
	if !ok {
		return fds, nil
	}
	d := time.Until(now)
	if d < 0 {
		d = 0
	}
	return fds, &d
}

// AfterPoll processes readiness reported by the caller's poll(2) call and
// any timeouts that have since elapsed, per spec.md §4.4 `adns_afterpoll`.
func (r *Resolver) AfterPoll(ready []PollFd) {
	for _, pf := range ready {
		r.dispatchReady(pf.FD, pf.Events)
	}
	r.processTimeoutsNow()
}

// BeforeSelect fills readfds/writefds/exceptfds and returns maxfd+1 for a
// select(2)-based event loop, the bitmask-of-fd alternative to BeforePoll
// (spec.md §4.4).
func (r *Resolver) BeforeSelect(readfds, writefds, exceptfds *unix.FdSet) (nfds int, timeout *time.Duration) {
	readfds.Zero()
	writefds.Zero()
	exceptfds.Zero()
	maxfd := -1
	for _, pf := range r.enumerateFDs() {
		if pf.Events&PollIn != 0 {
			readfds.Set(pf.FD)
		}
		if pf.Events&PollOut != 0 {
			writefds.Set(pf.FD)
		}
		if pf.Events&PollPri != 0 {
			exceptfds.Set(pf.FD)
		}
		if pf.FD > maxfd {
			maxfd = pf.FD
		}
	}
	now, ok := r.eng.FirstTimeoutNow()
	if !ok {
		return maxfd + 1, nil
	}
	d := time.Until(now)
	if d < 0 {
		d = 0
	}
	return maxfd + 1, &d
}

// AfterSelect processes a select(2) result, the bitmask counterpart of
// AfterPoll.
func (r *Resolver) AfterSelect(readfds, writefds, exceptfds *unix.FdSet) {
	for _, pf := range r.enumerateFDs() {
		var ev PollEvents
		if readfds.IsSet(pf.FD) {
			ev |= PollIn
		}
		if writefds.IsSet(pf.FD) {
			ev |= PollOut
		}
		if exceptfds.IsSet(pf.FD) {
			ev |= PollPri
		}
		if ev != 0 {
			r.dispatchReady(pf.FD, ev)
		}
	}
	r.processTimeoutsNow()
}

func (r *Resolver) dispatchReady(fd int, ev PollEvents) {
	switch fd {
	case r.eng.UDPFD():
		if ev&PollIn != 0 {
			r.eng.ProcessUDPReadable()
		}
	case r.eng.TCPFD():
		if ev&PollPri != 0 {
			r.eng.ProcessTCPExceptional()
		}
		if ev&PollOut != 0 {
			r.eng.ProcessTCPWritable()
		}
		if ev&PollIn != 0 {
			r.eng.ProcessTCPReadable()
		}
	}
}

func (r *Resolver) processTimeoutsNow() {
	now, ok := r.eng.Now()
	if !ok {
		return
	}
	r.eng.ProcessTimeouts(now)
}

// PollOnce performs one real, blocking poll(2) call followed by the
// corresponding After processing. It is the building block Wait/Synchronous
// use internally; an external caller driving its own event loop should use
// BeforePoll/AfterPoll (or BeforeSelect/AfterSelect) instead.
func (r *Resolver) PollOnce() error {
	watch, timeout := r.BeforePoll()
	pfds := make([]unix.PollFd, len(watch))
	for i, w := range watch {
		var events int16
		if w.Events&PollIn != 0 {
			events |= unix.POLLIN
		}
		if w.Events&PollOut != 0 {
			events |= unix.POLLOUT
		}
		if w.Events&PollPri != 0 {
			events |= unix.POLLPRI
		}
		pfds[i] = unix.PollFd{Fd: int32(w.FD), Events: events}
	}
	timeoutMs := -1
	if timeout != nil {
		timeoutMs = int(timeout.Milliseconds())
	}
	_, err := unix.Poll(pfds, timeoutMs)
	if err != nil && err != unix.EINTR {
		return err
	}
	ready := make([]PollFd, 0, len(pfds))
	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		var ev PollEvents
		if pfd.Revents&unix.POLLIN != 0 {
			ev |= PollIn
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			ev |= PollOut
		}
		if pfd.Revents&(unix.POLLPRI|unix.POLLHUP|unix.POLLERR) != 0 {
			ev |= PollPri
		}
		ready = append(ready, PollFd{FD: watch[i].FD, Events: ev})
	}
	r.AfterPoll(ready)
	return nil
}
