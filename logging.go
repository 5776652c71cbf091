package uvloop

import (
	"log/slog"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Logger emits the structured events named in spec §6/§7: one method per
// named event, so call sites never format ad-hoc strings.
type Logger interface {
	loopStarted()
	loopFatalError(err error)
	loopStopPhase(phase string, err error)
	connectionWriteCallback(buffers, bytes int, err error)
	connectionError(err error)
	connectionWroteFin(err error)
	connectionStop()
	notAllConnectionsClosedGracefully(err error)
	poolDisposeFailed(err error)
}

// slogLogger adapts github.com/joeycumines/logiface, via the
// logiface-slog backend, to the Logger interface above.
type slogLogger struct {
	log     *logiface.Logger[*islog.Event]
	limiter *catrate.Limiter
}

// NewLogger builds a Logger writing structured events through slog
// handler h, via logiface. Repeated loop_fatal_error events are
// throttled to at most 5 per 10 seconds, so a handle whose close
// callback errors on every tick cannot flood the log (SPEC_FULL.md §3
// [EXPANSION]).
func NewLogger(h slog.Handler) Logger {
	return &slogLogger{
		log: logiface.New[*islog.Event](islog.NewLogger(h)),
		limiter: catrate.NewLimiter(map[time.Duration]int{
			10 * time.Second: 5,
		}),
	}
}

func (l *slogLogger) loopStarted() {
	l.log.Info().Str("event", "loop_started").Log("event loop started")
}

func (l *slogLogger) loopFatalError(err error) {
	if _, ok := l.limiter.Allow("loop_fatal_error"); !ok {
		return
	}
	l.log.Err().Str("event", "loop_fatal_error").Err(err).Log("event loop captured a fatal error")
}

func (l *slogLogger) loopStopPhase(phase string, err error) {
	b := l.log.Info().Str("event", "loop_stop_phase").Str("phase", phase)
	if err != nil {
		b.Err(err)
	}
	b.Log("loop shutdown phase completed")
}

func (l *slogLogger) connectionWriteCallback(buffers, bytes int, err error) {
	b := l.log.Debug().Str("event", "connection_write_callback")
	if err != nil {
		b.Err(err)
	}
	b.Log("write completion callback")
}

func (l *slogLogger) connectionError(err error) {
	l.log.Warning().Str("event", "connection_error").Err(err).Log("connection write failed")
}

func (l *slogLogger) connectionWroteFin(err error) {
	b := l.log.Debug().Str("event", "connection_wrote_fin")
	if err != nil {
		b.Err(err)
	}
	b.Log("half-close shutdown issued")
}

func (l *slogLogger) connectionStop() {
	l.log.Debug().Str("event", "connection_stop").Log("connection pump stopped")
}

func (l *slogLogger) notAllConnectionsClosedGracefully(err error) {
	b := l.log.Warning().Str("event", "not_all_connections_closed_gracefully")
	if err != nil {
		b.Err(err)
	}
	b.Log("pre-stop connection drain did not complete within its timeout")
}

func (l *slogLogger) poolDisposeFailed(err error) {
	l.log.Err().Str("event", "pool_dispose_failed").Err(err).Log("memory pool dispose failed")
}

// noopLogger discards every event; the default when no Logger option is
// supplied.
type noopLogger struct{}

func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) loopStarted()                                  {}
func (noopLogger) loopFatalError(error)                          {}
func (noopLogger) loopStopPhase(string, error)                   {}
func (noopLogger) connectionWriteCallback(int, int, error)       {}
func (noopLogger) connectionError(error)                         {}
func (noopLogger) connectionWroteFin(error)                      {}
func (noopLogger) connectionStop()                               {}
func (noopLogger) notAllConnectionsClosedGracefully(error)        {}
func (noopLogger) poolDisposeFailed(error)                        {}
