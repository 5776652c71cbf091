package uvloop

import "sync/atomic"

// IOEvents is a bitset of I/O readiness conditions, matching epoll's
// readable/writable/error/hangup taxonomy.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Handle is a native resource registered with the reactor: a file
// descriptor plus the callback invoked when it becomes ready. The wake
// primitive and every connection Socket are backed by one Handle each.
//
// Referenced tracks whether this handle alone should keep the reactor
// running (spec §4.1: "runs while any handle is referenced"). It is safe
// to call Reference/Unreference from any goroutine, but in practice only
// the loop thread ever does, per the affinity invariant.
type Handle struct {
	FD         int
	referenced atomic.Bool
	events     IOEvents
	callback   func(IOEvents)
	// CloseFn, if set, is invoked by Loop.Stop's StopRude phase to tear
	// down the handle's owner (e.g. a Socket) directly, without going
	// through the close-handle queue — StopRude already runs on the loop
	// thread via a posted task, so no extra hop is needed.
	CloseFn func() error
}

func (h *Handle) Reference() { h.referenced.Store(true) }

// Unreference is idempotent: repeated calls after the first are no-ops.
func (h *Handle) Unreference() { h.referenced.Store(false) }

func (h *Handle) Referenced() bool { return h.referenced.Load() }
