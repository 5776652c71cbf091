package uvloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is the single-goroutine reactor and work dispatcher (C1/C6): it
// owns the epoll reactor, the lock-free work queue, the close-handle
// queue, and the three-phase shutdown sequence described in spec §4.4.
type Loop struct {
	state   *FastState
	reactor *reactor
	wake    *wakePrimitive

	work   workQueue
	posted postedFlag
	closeQ closeQueue

	writePool *writeRequestPool
	memPool   MemoryPool
	connMgr   ConnectionManager

	shutdownTimeout time.Duration
	maxDrainLoops   int
	logger          Logger
	metrics         *Metrics
	threadPool      ThreadPool
	onFatal         func(error)

	startOnce sync.Once
	startMu   sync.Mutex
	ready     atomic.Bool

	fatal atomic.Pointer[error]

	loopGoroutineID atomic.Uint64
	loopDone        chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// New constructs a Loop with the given options. Its reactor is not
// initialized, and no goroutine is started, until Start is called.
func New(opts ...LoopOption) *Loop {
	cfg := resolveLoopOptions(opts)
	l := &Loop{
		state:           NewFastState(),
		reactor:         newReactor(),
		writePool:       newWriteRequestPool(),
		memPool:         cfg.memPool,
		connMgr:         cfg.connMgr,
		shutdownTimeout: cfg.shutdownTimeout,
		maxDrainLoops:   cfg.maxDrainLoops,
		logger:          cfg.logger,
		metrics:         cfg.metrics,
		threadPool:      cfg.threadPool,
		onFatal:         cfg.onFatal,
		loopDone:        make(chan struct{}),
	}
	return l
}

// SetConnectionManager assigns the ConnectionManager consulted during
// Stop's pre-stop phase. Must be called before Start; it exists as a
// setter, rather than a New option, because a ConnectionManager
// implementation (such as Registry) typically needs a reference to the
// Loop it tracks, which cannot exist before New returns.
func (l *Loop) SetConnectionManager(cm ConnectionManager) {
	l.connMgr = cm
}

// Start initializes the reactor and wake primitive, then runs the loop
// on a new goroutine for as long as any handle remains referenced (or
// until Stop forces it to return). The returned Future settles once
// initialization has finished, successfully or not; a failed Start
// leaves the Loop unusable for any further operation.
func (l *Loop) Start() *Future {
	fut := newFuture()
	started := false
	l.startOnce.Do(func() { started = true })
	if !started {
		fut.settle(ErrLoopAlreadyRunning)
		return fut
	}
	go l.main(fut)
	return fut
}

func (l *Loop) main(startFut *Future) {
	defer close(l.loopDone)

	l.startMu.Lock()
	l.loopGoroutineID.Store(getGoroutineID())

	if err := l.reactor.init(); err != nil {
		l.startMu.Unlock()
		startFut.settle(err)
		return
	}
	wake, err := newWakePrimitive(l.reactor, l.onWake, l.enqueueCloseOnly)
	if err != nil {
		_ = l.reactor.dispose()
		l.startMu.Unlock()
		startFut.settle(err)
		return
	}
	l.wake = wake
	// Work posted before the wake primitive existed fired the posted flag
	// without signalling; one signal now lets the first tick drain it.
	_ = wake.send()
	l.state.Store(StateRunning)
	l.ready.Store(true)
	l.startMu.Unlock()

	l.logger.loopStarted()
	startFut.settle(nil)

	didNotStop, runErr := l.reactor.run()
	if runErr != nil {
		l.setFatal(runErr)
	}
	if didNotStop {
		// StopImmediate was requested: return without further cleanup,
		// per spec §4.4 phase 3's bounded "leak on demand" contract.
		l.state.Store(StateTerminated)
		return
	}

	// Graceful path: every handle but the wake primitive unreferenced
	// itself naturally. Re-reference the wake primitive so a second
	// reactor pass stays blocked until its own close (routed through the
	// close-handle queue, same as any other handle) has been processed.
	l.wake.reference()
	l.wake.dispose()
	for {
		l.drainClose()
		if l.reactor.referencedCount() == 0 {
			break
		}
		if _, err2 := l.reactor.run(); err2 != nil {
			l.setFatal(err2)
			break
		}
	}
	if err := l.reactor.dispose(); err != nil {
		l.setFatal(err)
	}
	l.state.Store(StateTerminated)
}

// postedFlag dedups wake signals: a producer only writes to the wake
// primitive if it wins the armed->fired CAS; the consumer rearms before
// draining, so a producer that arrives mid-drain is guaranteed another
// wake-up rather than a lost one.
type postedFlag struct{ v atomic.Bool }

func (p *postedFlag) tryFire() bool { return p.v.CompareAndSwap(false, true) }
func (p *postedFlag) rearm()        { p.v.Store(false) }

// onWake is the sole entry point for draining both queues; it runs on
// the loop thread, invoked by the reactor's dispatch of the wake
// primitive's own fd becoming readable.
func (l *Loop) onWake() {
	if l.metrics != nil {
		l.metrics.observeWake()
	}
	l.posted.rearm()
	iterations := 0
	var lastWorkDepth, lastCloseDepth int
	for i := 0; i < l.maxDrainLoops; i++ {
		iterations++
		workEmpty, workDepth := l.drainWork()
		closeEmpty, closeDepth := l.drainClose()
		lastWorkDepth, lastCloseDepth = workDepth, closeDepth
		if workEmpty && closeEmpty {
			break
		}
	}
	if l.metrics != nil {
		l.metrics.observeDrain(iterations, lastWorkDepth, lastCloseDepth)
		l.metrics.observeWritePoolSize(l.writePool.size())
	}
}

func (l *Loop) drainWork() (empty bool, depth int) {
	items := l.work.drain()
	if len(items) == 0 {
		return true, 0
	}
	for _, it := range items {
		l.runWorkItem(it)
	}
	return false, len(items)
}

func (l *Loop) runWorkItem(it workItem) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("uvloop: task panicked: %v", r)
			}
		}()
		return it.fn()
	}()
	if it.completion != nil {
		l.threadPool.Run(func() { it.completion.settle(err) })
		return
	}
	if err != nil {
		l.setFatal(err)
	}
}

func (l *Loop) drainClose() (empty bool, depth int) {
	items := l.closeQ.drain()
	if len(items) == 0 {
		return true, 0
	}
	for _, it := range items {
		l.runCloseItem(it)
	}
	return false, len(items)
}

func (l *Loop) runCloseItem(it closeItem) {
	if it.fn == nil {
		return
	}
	if err := it.fn(); err != nil {
		l.setFatal(err)
	}
}

// Post enqueues fn for execution on the loop thread, returning
// ErrLoopTerminated if the loop is terminating or terminated. fn's
// return value is treated as fatal to the loop, since there is no
// completion to route it to — use PostAsync if you need the result.
func (l *Loop) Post(fn func() error) error {
	return l.enqueueWork(workItem{fn: fn})
}

// PostAsync enqueues fn and returns a Future that settles with fn's
// result once it runs, delivered via the configured ThreadPool so the
// loop goroutine never executes a user continuation inline.
func (l *Loop) PostAsync(fn func() error) *Future {
	fut := newFuture()
	if err := l.enqueueWork(workItem{fn: fn, completion: fut}); err != nil {
		fut.settle(err)
	}
	return fut
}

func (l *Loop) enqueueWork(it workItem) error {
	if !l.state.CanAcceptWork() {
		return ErrLoopTerminated
	}
	l.work.push(it)
	if l.posted.tryFire() {
		if l.wake == nil {
			// Start hasn't finished initializing yet; the wake
			// primitive doesn't exist to signal. This item is still
			// queued and will be picked up on the loop's first tick.
			return nil
		}
		return l.wake.send()
	}
	return nil
}

// runOnLoop posts fn and blocks the calling goroutine until it has run
// (or the loop rejects the submission), modeling the "context-switch
// onto the loop thread" suspension point used by OutputPump.
func (l *Loop) runOnLoop(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := l.Post(func() error {
		done <- fn()
		return nil
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueCloseHandle is the synchronous close-handle enqueue variant: it
// pushes the item then always signals the wake primitive, since handle
// teardown is rare enough that the posted-flag dedup optimization isn't
// worth the complexity here.
func (l *Loop) QueueCloseHandle(fn func() error, handle *Handle) {
	l.closeQ.push(closeItem{fn: fn, handle: handle})
	if l.wake != nil {
		_ = l.wake.send()
	}
}

// enqueueCloseOnly adapts the close-handle queue to the onClose callback
// shape wakePrimitive.dispose expects: enqueue only, no signal, since
// the wake primitive's own teardown only ever happens from inside
// Loop.main's own drain loop, which doesn't need a wake-up to notice it.
func (l *Loop) enqueueCloseOnly(fn func() error, handle *Handle) {
	l.closeQ.push(closeItem{fn: fn, handle: handle})
}

// QueueCloseHandleAsync enqueues only, without signaling — safe to call
// from contexts where sending (which may allocate or syscall) would be
// unsafe, such as a finalizer.
func (l *Loop) QueueCloseHandleAsync(fn func() error, handle *Handle) {
	l.closeQ.push(closeItem{fn: fn, handle: handle})
}

// Walk invokes fn once per live reactor handle. Must be called from the
// loop thread.
func (l *Loop) Walk(fn func(*Handle)) error {
	if !l.isLoopThread() {
		return ErrNotLoopThread
	}
	l.reactor.walk(fn)
	return nil
}

// FatalError returns the first fatal error the loop captured, or nil.
func (l *Loop) FatalError() error {
	if p := l.fatal.Load(); p != nil {
		return *p
	}
	return nil
}

func (l *Loop) setFatal(err error) {
	if err == nil {
		return
	}
	if l.fatal.CompareAndSwap(nil, &err) {
		l.logger.loopFatalError(err)
		if l.onFatal != nil {
			l.onFatal(err)
		}
	}
}

func (l *Loop) isLoopThread() bool {
	id := l.loopGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// Stop executes the three-phase shutdown sequence from spec §4.4:
// pre-stop connection drain and pool disposal, then AllowStop,
// StopRude, and StopImmediate, each bounded by timeout/3. It is safe to
// call Stop before Start ever ran (a "cold stop" returns immediately)
// and safe to call more than once (only the first call executes the
// sequence). If the loop captured a fatal error at any point in its
// lifetime, that error is returned.
func (l *Loop) Stop(ctx context.Context, timeout time.Duration) error {
	l.stopOnce.Do(func() {
		l.stopErr = l.stopImpl(ctx, timeout)
	})
	return l.stopErr
}

func (l *Loop) stopImpl(ctx context.Context, timeout time.Duration) error {
	if !l.ready.Load() {
		return nil // cold stop: Start never completed
	}

	l.preStop(ctx)

	if timeout <= 0 {
		timeout = l.shutdownTimeout
	}
	step := timeout / 3

	l.state.Store(StateTerminating)

	l.postPhase(func() error {
		l.wake.unreference()
		return nil
	})
	if l.waitTerminated(step) {
		return l.finishStop("allow_stop")
	}

	l.postPhase(func() error {
		l.reactor.walk(func(h *Handle) {
			if h == l.wake.handle {
				return
			}
			h.Unreference()
			if h.CloseFn != nil {
				_ = h.CloseFn()
			}
		})
		return nil
	})
	if l.waitTerminated(step) {
		return l.finishStop("stop_rude")
	}

	l.postPhase(func() error {
		l.reactor.stop()
		return nil
	})
	l.waitTerminated(step)

	return l.finishStop("stop_immediate")
}

func (l *Loop) preStop(ctx context.Context) {
	if l.connMgr != nil {
		walkCtx, cancel := context.WithTimeout(ctx, l.shutdownTimeout)
		ok, err := l.connMgr.WalkAndCloseAll(walkCtx, l.shutdownTimeout)
		cancel()
		if err != nil || !ok {
			l.logger.notAllConnectionsClosedGracefully(err)
		}
	}
	_ = l.Post(func() error {
		l.writePool.dispose()
		return nil
	})
	if l.memPool != nil {
		if err := l.memPool.Dispose(); err != nil {
			l.logger.poolDisposeFailed(err)
		}
	}
}

// postPhase enqueues one of Stop's own phase actions directly, bypassing
// the CanAcceptWork gate that makes ordinary Post calls fail once
// Terminating has begun — Stop sets that state before running its
// phases, so routing through Post here would drop every phase action.
func (l *Loop) postPhase(fn func() error) {
	l.work.push(workItem{fn: fn})
	if l.posted.tryFire() && l.wake != nil {
		_ = l.wake.send()
	}
}

func (l *Loop) waitTerminated(step time.Duration) bool {
	select {
	case <-l.loopDone:
		return true
	case <-time.After(step):
		return false
	}
}

func (l *Loop) finishStop(lastPhase string) error {
	select {
	case <-l.loopDone:
		if l.metrics != nil {
			l.metrics.observeShutdownPhase(lastPhase, "terminated")
		}
	default:
		l.logger.loopStopPhase(lastPhase, nil)
		if l.metrics != nil {
			l.metrics.observeShutdownPhase(lastPhase, "failed_to_terminate")
		}
	}
	return l.FatalError()
}
