//go:build linux

package uvloop

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// Sentinel errors for reactor handle registration, matching the poller
// error taxonomy this reactor is adapted from.
var (
	ErrFDAlreadyRegistered = errors.New("uvloop: fd already registered")
	ErrFDNotRegistered     = errors.New("uvloop: fd not registered")
	ErrReactorClosed       = errors.New("uvloop: reactor closed")
)

// pollTimeoutMillis bounds how long a single EpollWait call blocks, so the
// reactor periodically re-checks its stop flag even with no fd activity.
const pollTimeoutMillis = 1000

// reactor is the epoll-backed implementation of the C1 reactor_api:
// init, run (blocks while any handle is referenced), stop (forces run to
// return early), dispose, and walk (iterate live handles). It owns
// exactly one epoll instance and is driven from a single goroutine for
// its lifetime.
type reactor struct {
	epfd int

	mu      sync.RWMutex
	handles map[int]*Handle

	stopped  bool
	stopOnce sync.Once

	eventBuf [256]unix.EpollEvent
}

func newReactor() *reactor {
	return &reactor{handles: make(map[int]*Handle)}
}

func (r *reactor) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	r.epfd = epfd
	return nil
}

// register adds fd to the epoll set, returning a Handle that owns its
// callback and reference state.
func (r *reactor) register(fd int, events IOEvents, referenced bool, cb func(IOEvents)) (*Handle, error) {
	r.mu.Lock()
	if _, exists := r.handles[fd]; exists {
		r.mu.Unlock()
		return nil, ErrFDAlreadyRegistered
	}
	h := &Handle{FD: fd, events: events, callback: cb}
	h.referenced.Store(referenced)
	r.handles[fd] = h
	r.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		r.mu.Lock()
		delete(r.handles, fd)
		r.mu.Unlock()
		return nil, err
	}
	return h, nil
}

// modify updates the set of events a registered handle is polled for.
func (r *reactor) modify(h *Handle, events IOEvents) error {
	r.mu.Lock()
	if _, exists := r.handles[h.FD]; !exists {
		r.mu.Unlock()
		return ErrFDNotRegistered
	}
	h.events = events
	r.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(h.FD)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, h.FD, ev)
}

// unregister removes a handle from the epoll set.
func (r *reactor) unregister(h *Handle) error {
	r.mu.Lock()
	delete(r.handles, h.FD)
	r.mu.Unlock()
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, h.FD, nil)
}

// walk invokes fn once per currently-registered handle. Safe to call from
// any goroutine; fn itself must not block.
func (r *reactor) walk(fn func(*Handle)) {
	r.mu.RLock()
	snapshot := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()
	for _, h := range snapshot {
		fn(h)
	}
}

func (r *reactor) referencedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.handles {
		if h.Referenced() {
			n++
		}
	}
	return n
}

// stop forces a blocked or future run() call to return immediately with
// didNotStop=true, regardless of referenced handle count.
func (r *reactor) stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
	})
}

func (r *reactor) isStopped() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stopped
}

// run blocks dispatching I/O-ready callbacks until either no handle
// remains referenced (didNotStop=false, the natural exit) or stop() has
// been called (didNotStop=true, the forced exit — per spec §9, the
// caller must not assume any further cleanup happened).
func (r *reactor) run() (didNotStop bool, err error) {
	for {
		if r.isStopped() {
			return true, nil
		}
		if r.referencedCount() == 0 {
			return false, nil
		}
		n, werr := unix.EpollWait(r.epfd, r.eventBuf[:], pollTimeoutMillis)
		if werr != nil {
			if werr == unix.EINTR {
				continue
			}
			return false, werr
		}
		for i := 0; i < n; i++ {
			fd := int(r.eventBuf[i].Fd)
			r.mu.RLock()
			h := r.handles[fd]
			r.mu.RUnlock()
			if h != nil && h.callback != nil {
				h.callback(epollToEvents(r.eventBuf[i].Events))
			}
		}
	}
}

func (r *reactor) dispose() error {
	return unix.Close(r.epfd)
}

func eventsToEpoll(events IOEvents) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) IOEvents {
	var events IOEvents
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
