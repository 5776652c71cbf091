package uvloop

import "time"

type loopOptions struct {
	shutdownTimeout time.Duration
	maxDrainLoops   int
	logger          Logger
	metrics         *Metrics
	threadPool      ThreadPool
	onFatal         func(error)
	connMgr         ConnectionManager
	memPool         MemoryPool
}

// LoopOption configures a Loop at construction time; configuration is
// fixed for the Loop's lifetime (spec's "no dynamic reconfiguration after
// start" non-goal).
type LoopOption func(*loopOptions)

// WithShutdownTimeout sets how long Stop's pre-stop phase waits for the
// ConnectionManager to close every connection; it is also the budget
// Stop divides into three equal phases when Stop is given a timeout
// <= 0. Default 5s.
func WithShutdownTimeout(d time.Duration) LoopOption {
	return func(o *loopOptions) { o.shutdownTimeout = d }
}

// WithMaxDrainLoops overrides MaxDrainLoops, mainly for tests that need
// to force an overload/yield boundary deterministically.
func WithMaxDrainLoops(n int) LoopOption {
	return func(o *loopOptions) { o.maxDrainLoops = n }
}

func WithLogger(l Logger) LoopOption {
	return func(o *loopOptions) { o.logger = l }
}

func WithMetrics(m *Metrics) LoopOption {
	return func(o *loopOptions) { o.metrics = m }
}

func WithThreadPool(tp ThreadPool) LoopOption {
	return func(o *loopOptions) { o.threadPool = tp }
}

// WithApplicationLifetime registers a callback invoked the first time the
// loop captures a fatal error (spec §7's application_lifetime
// collaborator), typically wired to an outer process's shutdown trigger.
func WithApplicationLifetime(stop func(error)) LoopOption {
	return func(o *loopOptions) { o.onFatal = stop }
}

func WithConnectionManager(cm ConnectionManager) LoopOption {
	return func(o *loopOptions) { o.connMgr = cm }
}

func WithMemoryPool(mp MemoryPool) LoopOption {
	return func(o *loopOptions) { o.memPool = mp }
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{
		shutdownTimeout: 5 * time.Second,
		maxDrainLoops:   MaxDrainLoops,
		logger:          NewNoopLogger(),
		threadPool:      goThreadPool{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}
