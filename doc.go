// Package uvloop implements the loop thread of a single-core,
// single-threaded-reactor HTTP server front end: a reactor-driven work
// dispatcher (Loop, workQueue, closeQueue) and a cooperative
// per-connection output pump (OutputPump) that drains buffered response
// bytes onto a non-blocking socket.
//
// # Architecture
//
// [Loop] owns a single epoll-backed reactor and runs on exactly one
// goroutine for its lifetime. Work submitted via [Loop.Post] or
// [Loop.PostAsync] is appended to a lock-free multi-producer queue and
// picked up the next time the loop's wake primitive fires. Teardown
// submitted through [Loop.QueueCloseHandle] or
// [Loop.QueueCloseHandleAsync], and the wake primitive's own teardown, go
// through a separate mutex-guarded close-handle queue; sockets are
// closed by posted work items.
//
// [OutputPump] is the per-connection consumer of a [ByteChannel]: it
// awaits bytes, hops onto the loop thread to issue a non-blocking write
// via a pooled write request, and repeats until the channel closes, is
// cancelled, or the socket reports an error.
//
// # Scope
//
// HTTP framing, connection acceptance, TLS termination, and the
// request-processing pipeline that feeds a ByteChannel are all out of
// scope; callers supply their own [MemoryPool] and [ConnectionManager],
// or use the demo [SlabPool] / [Registry] implementations to exercise
// the loop end to end (see cmd/uvloopd).
//
// # Thread affinity
//
// Socket and reactor handle state is touched only from the loop's own
// goroutine. [Loop.Post] and [Loop.PostAsync] are the sole supported
// entry points from other goroutines; [Loop.Walk] returns
// [ErrNotLoopThread] if called from anywhere else.
package uvloop

// MaxDrainLoops bounds how many times the wake handler re-checks the work
// and close-handle queues for newly arrived items before yielding back to
// the reactor, so a single wake-up cannot monopolize the thread under
// sustained producer pressure.
const MaxDrainLoops = 8
