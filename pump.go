package uvloop

import (
	"context"
	"errors"
	"io"
)

// OutputPump is the per-connection cooperative task (C7, spec §4.5) that
// drains a ByteChannel to a Socket. It runs on its own goroutine for the
// connection's lifetime, hopping onto the loop thread via a Loop.Post'd
// task for every step that touches loop-owned state (the socket, the
// write-request pool, the channel's buffer chain).
type OutputPump struct {
	loop    *Loop
	socket  *Socket
	channel *ByteChannel
	conn    Connection
	pool    *writeRequestPool
	logger  Logger
}

func NewOutputPump(loop *Loop, socket *Socket, channel *ByteChannel, conn Connection, pool *writeRequestPool, logger Logger) *OutputPump {
	return &OutputPump{loop: loop, socket: socket, channel: channel, conn: conn, pool: pool, logger: logger}
}

// Run executes the pump's main loop until the channel closes cleanly,
// is cancelled, the socket reports an error, or ctx is cancelled. It
// blocks for the connection's lifetime and is meant to be called from
// its own goroutine.
func (p *OutputPump) Run(ctx context.Context) {
	defer p.release()
	for {
		begin, end, err := p.channel.Await(ctx)
		if err != nil {
			p.onSuspendError(err)
			return
		}

		closed, err := p.stepWrite(ctx, begin, end)
		if err != nil {
			p.onSuspendError(err)
			return
		}
		if closed {
			return
		}
	}
}

// stepWrite runs the write for [begin, end) entirely from a task posted
// to the loop (spec §4.5 steps 3-6): it computes the byte/buffer counts,
// flattens the span into one contiguous slice, takes a pooled write
// request, and submits a non-blocking write. The write's completion
// callback — which always fires on the loop thread, either inline if
// the write completes synchronously or later from the reactor's
// EventWrite dispatch — advances the channel and returns the request to
// the pool before waking the pump's own goroutine via resultCh. This
// keeps every touch of loop-owned state on the loop thread while still
// letting the pump goroutine block on an ordinary Go channel, matching
// the "two coordinated tasks + mailbox" alternative in the design notes.
func (p *OutputPump) stepWrite(ctx context.Context, begin, end Iterator) (closed bool, err error) {
	type outcome struct {
		closed bool
		err    error
	}
	resultCh := make(chan outcome, 1)

	postErr := p.loop.Post(func() error {
		n := ByteCount(begin, end)
		bufs := BufferCount(begin, end)
		data := flatten(begin, end, n)
		req := p.pool.take()

		p.socket.Write(req, data, func(werr error) {
			p.logger.connectionWriteCallback(bufs, n, werr)
			if werr != nil {
				p.conn.Abort(werr)
				p.logger.connectionError(werr)
			}
			p.channel.Advance(end)
			p.pool.put(req)
			resultCh <- outcome{closed: p.socket.Closed() || werr != nil, err: nil}
		})
		return nil
	})
	if postErr != nil {
		return false, postErr
	}

	select {
	case out := <-resultCh:
		return out.closed, out.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// onSuspendError handles the three ways a suspension point can end
// besides a clean write: clean EOF (no-op, Run returns), cancellation,
// or context expiry (both trigger the cancellation path: a half-close
// shutdown request on the socket).
func (p *OutputPump) onSuspendError(err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	p.cancelWrite()
}

func (p *OutputPump) cancelWrite() {
	done := make(chan struct{})
	postErr := p.loop.Post(func() error {
		defer close(done)
		if p.socket.Closed() {
			return nil
		}
		p.socket.Shutdown(func(serr error) {
			p.logger.connectionWroteFin(serr)
		})
		return nil
	})
	if postErr != nil {
		return
	}
	<-done
}

// release is the guaranteed-release block (spec §4.5): regardless of how
// Run exited, the socket is disposed, the connection is notified, and
// the channel is closed so any further producer Write fails with
// ErrChannelClosed.
func (p *OutputPump) release() {
	done := make(chan struct{})
	postErr := p.loop.Post(func() error {
		_ = p.socket.closeNow()
		close(done)
		return nil
	})
	if postErr == nil {
		<-done
	}
	// If postErr != nil the loop has already terminated; its own
	// shutdown path owns reclaiming any handles left referenced, per the
	// bounded "leak on StopImmediate" contract (spec §4.4 phase 3).
	p.conn.OnSocketClosed()
	p.channel.Close()
	p.logger.connectionStop()
}
