package uvloop

import "errors"

// Sentinel errors surfaced across the loop's external interface (spec §7).
var (
	// ErrLoopTerminated is returned by Post (and settles PostAsync's Future)
	// once the loop has entered its terminating or terminated state; callers
	// must treat it as "the submission was dropped", not a fatal condition.
	ErrLoopTerminated = errors.New("uvloop: loop is terminated or terminating")

	// ErrLoopAlreadyRunning is returned by a second call to Loop.Start.
	ErrLoopAlreadyRunning = errors.New("uvloop: loop already started")

	// ErrNotLoopThread is returned by Walk when it is called from a
	// goroutine other than the loop's own.
	ErrNotLoopThread = errors.New("uvloop: call not made from the loop thread")

	// ErrChannelClosed is returned by ByteChannel.Write after Close.
	ErrChannelClosed = errors.New("uvloop: byte channel closed")

	// ErrChannelCancelled is observed by a pending Await woken by Cancel.
	ErrChannelCancelled = errors.New("uvloop: byte channel cancelled")

	// ErrPoolDisposed names a disposed write-request pool. No function in
	// this package returns it: writeRequestPool.take after dispose still
	// hands out a fresh request, and put after dispose drops it.
	ErrPoolDisposed = errors.New("uvloop: write request pool disposed")
)
