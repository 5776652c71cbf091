package uvloop

import (
	"context"
	"sync"
	"time"
)

// Connection is the per-client state an OutputPump drives. The pump calls
// Abort and Closed from the loop thread; it calls OnSocketClosed from its
// own goroutine, after the socket has been closed on the loop thread.
type Connection interface {
	// Abort marks the connection dead after a write failure, so the
	// pump's cleanup path proceeds without issuing further writes.
	Abort(err error)
	// OnSocketClosed notifies the connection its socket handle has been
	// disposed, as the last step of the pump's guaranteed-release block.
	OnSocketClosed()
	// Closed reports whether the socket has already been closed.
	Closed() bool
}

// ConnectionManager tracks live connections and is walked at the start of
// Loop.Stop's pre-stop phase (spec §4.4).
type ConnectionManager interface {
	// WalkAndCloseAll closes every tracked connection, returning true iff
	// all of them finished closing within timeout.
	WalkAndCloseAll(ctx context.Context, timeout time.Duration) (bool, error)
}

// demoConnection is the Connection used by the Registry/cmd/uvloopd demo.
type demoConnection struct {
	registry *Registry
	socket   *Socket
	channel  *ByteChannel
	mu       sync.Mutex
	err      error
}

func (c *demoConnection) Abort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *demoConnection) OnSocketClosed() {
	c.registry.remove(c)
}

func (c *demoConnection) Closed() bool {
	return c.socket.Closed()
}

// Registry is a concrete ConnectionManager sufficient to run the demo
// server in cmd/uvloopd and to exercise OutputPump/Loop.Stop in tests
// without a mock.
type Registry struct {
	loop *Loop

	mu    sync.Mutex
	conns map[*demoConnection]struct{}
}

func NewRegistry(loop *Loop) *Registry {
	return &Registry{loop: loop, conns: make(map[*demoConnection]struct{})}
}

// Add registers a new connection around an already-accepted fd, wiring it
// to a fresh socket, byte channel, and output pump. The pump runs on its
// own goroutine for the connection's lifetime. It draws write requests
// from the owning Loop's own pool, so callers never see a
// writeRequestPool directly.
func (r *Registry) Add(fd int, pool MemoryPool, logger Logger) (*demoConnection, *ByteChannel, error) {
	var (
		conn *demoConnection
		err  error
	)
	waitErr := r.loop.runOnLoop(context.Background(), func() error {
		sock, sErr := r.loop.NewSocket(fd)
		if sErr != nil {
			err = sErr
			return sErr
		}
		conn = &demoConnection{registry: r, socket: sock}
		r.mu.Lock()
		r.conns[conn] = struct{}{}
		r.mu.Unlock()
		return nil
	})
	if waitErr != nil {
		return nil, nil, waitErr
	}
	if err != nil {
		return nil, nil, err
	}
	ch := NewByteChannel(pool)
	conn.channel = ch
	pump := NewOutputPump(r.loop, conn.socket, ch, conn, r.loop.writePool, logger)
	go pump.Run(context.Background())
	return conn, ch, nil
}

func (r *Registry) remove(c *demoConnection) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// WalkAndCloseAll half-closes every tracked connection's socket and waits
// up to timeout for them all to report closed.
func (r *Registry) WalkAndCloseAll(ctx context.Context, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	conns := make([]*demoConnection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.channel.Cancel()
	}

	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		remaining := len(r.conns)
		r.mu.Unlock()
		if remaining == 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
