//go:build linux

package uvloop

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Socket is the native stream-socket handle an OutputPump writes to. Per
// the affinity invariant (spec §5), it is created, mutated, and
// destroyed only on the loop thread: NewSocket, Write's completion
// callback, and closeNow all either run directly on the loop goroutine
// or are invoked by the reactor's dispatch loop, which only ever runs
// there.
type Socket struct {
	fd     int
	loop   *Loop
	handle *Handle
	closed atomic.Bool

	pendingReq  *writeRequest
	pendingData []byte
	pendingCB   func(error)
}

// NewSocket wraps an already-connected, non-blocking fd and registers it
// with the loop's reactor. Must be called from the loop thread (e.g.
// from inside a Post'd task, as Registry.Add does).
func (l *Loop) NewSocket(fd int) (*Socket, error) {
	s := &Socket{fd: fd, loop: l}
	h, err := l.reactor.register(fd, 0, true, func(ev IOEvents) {
		s.onEvent(ev)
	})
	if err != nil {
		return nil, err
	}
	h.CloseFn = s.closeNow
	s.handle = h
	return s, nil
}

func (s *Socket) onEvent(ev IOEvents) {
	if ev&EventWrite != 0 && s.pendingData != nil {
		s.tryWrite()
	}
}

// Write submits a non-blocking write of data through req, invoking cb
// exactly once with the outcome. req must have been taken from a
// writeRequestPool immediately before the call and is not returned to
// the pool by Write itself — the caller does that once cb has run.
// Write must be called from the loop thread.
func (s *Socket) Write(req *writeRequest, data []byte, cb func(error)) {
	req.inFlight = true
	s.pendingReq, s.pendingData, s.pendingCB = req, data, cb
	s.tryWrite()
}

func (s *Socket) tryWrite() {
	for len(s.pendingData) > 0 {
		n, err := unix.Write(s.fd, s.pendingData)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				_ = s.loop.reactor.modify(s.handle, EventWrite)
				return
			}
			s.finishWrite(err)
			return
		}
		s.pendingData = s.pendingData[n:]
	}
	_ = s.loop.reactor.modify(s.handle, 0)
	s.finishWrite(nil)
}

func (s *Socket) finishWrite(err error) {
	cb := s.pendingCB
	s.pendingReq, s.pendingData, s.pendingCB = nil, nil, nil
	if cb != nil {
		cb(err)
	}
}

// Shutdown issues a half-close (TCP FIN), the native "shutdown request"
// of the pump's cancellation path (spec §4.5).
func (s *Socket) Shutdown(cb func(error)) {
	err := unix.Shutdown(s.fd, unix.SHUT_WR)
	cb(err)
}

func (s *Socket) Closed() bool { return s.closed.Load() }

// closeNow disposes the socket's fd. Invoked from OutputPump.release's
// posted task or, via Handle.CloseFn, from Loop.Stop's StopRude phase
// (also a posted task); both run on the loop thread.
func (s *Socket) closeNow() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.loop.reactor.unregister(s.handle)
	return closeFD(s.fd)
}
