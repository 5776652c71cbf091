package uvloop

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the C10 metrics collector: queue depth, wake count, pool
// size, and shutdown-phase outcome, registered against a caller-supplied
// prometheus.Registerer (cmd/uvloopd passes its own prometheus.NewRegistry
// and serves it on an HTTP /metrics endpoint).
type Metrics struct {
	wakeCount       prometheus.Counter
	drainIterations prometheus.Histogram
	workQueueDepth  prometheus.Gauge
	closeQueueDepth prometheus.Gauge
	writePoolSize   prometheus.Gauge
	shutdownPhase   *prometheus.CounterVec
}

// NewMetrics constructs and registers the collector's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		wakeCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uvloop",
			Name:      "wake_total",
			Help:      "Number of times the loop's wake primitive fired.",
		}),
		drainIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uvloop",
			Name:      "drain_iterations",
			Help:      "Number of work/close drain iterations per wake handler invocation.",
			Buckets:   prometheus.LinearBuckets(1, 1, MaxDrainLoops),
		}),
		workQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uvloop",
			Name:      "work_queue_depth",
			Help:      "Number of work items drained in the most recent iteration.",
		}),
		closeQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uvloop",
			Name:      "close_queue_depth",
			Help:      "Number of close-handle items drained in the most recent iteration.",
		}),
		writePoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uvloop",
			Name:      "write_pool_size",
			Help:      "Current number of free writeRequest objects in the pool.",
		}),
		shutdownPhase: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uvloop",
			Name:      "shutdown_phase_total",
			Help:      "Count of shutdown phases reached, by phase name and outcome.",
		}, []string{"phase", "outcome"}),
	}
	reg.MustRegister(
		m.wakeCount,
		m.drainIterations,
		m.workQueueDepth,
		m.closeQueueDepth,
		m.writePoolSize,
		m.shutdownPhase,
	)
	return m
}

func (m *Metrics) observeWake() { m.wakeCount.Inc() }

func (m *Metrics) observeDrain(iterations int, workDepth, closeDepth int) {
	m.drainIterations.Observe(float64(iterations))
	m.workQueueDepth.Set(float64(workDepth))
	m.closeQueueDepth.Set(float64(closeDepth))
}

func (m *Metrics) observeWritePoolSize(n int) { m.writePoolSize.Set(float64(n)) }

func (m *Metrics) observeShutdownPhase(phase, outcome string) {
	m.shutdownPhase.WithLabelValues(phase, outcome).Inc()
}
