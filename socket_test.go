//go:build linux

package uvloop

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSocket_WriteDeliversBytesAndInvokesCallback(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[1])

	l := New(WithShutdownTimeout(300 * time.Millisecond))
	if err := l.Start().Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background(), 300*time.Millisecond)

	done := make(chan error, 1)
	if err := l.Post(func() error {
		sock, err := l.NewSocket(fds[0])
		if err != nil {
			return err
		}
		req := l.writePool.take()
		sock.Write(req, []byte("ping"), func(werr error) {
			done <- werr
		})
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case werr := <-done:
		if werr != nil {
			t.Fatalf("unexpected write error: %v", werr)
		}
	case <-time.After(time.Second):
		t.Fatal("write callback never fired")
	}

	buf := make([]byte, 16)
	n, err := unix.Read(fds[1], buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("expected %q, got %q", "ping", buf[:n])
	}
}

func TestSocket_CloseNowIsIdempotent(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[1])

	l := New(WithShutdownTimeout(300 * time.Millisecond))
	if err := l.Start().Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background(), 300*time.Millisecond)

	if err := l.runOnLoop(context.Background(), func() error {
		sock, err := l.NewSocket(fds[0])
		if err != nil {
			return err
		}
		if err := sock.closeNow(); err != nil {
			return err
		}
		if !sock.Closed() {
			t.Fatal("expected Closed() to report true after closeNow")
		}
		return sock.closeNow()
	}); err != nil {
		t.Fatal(err)
	}
}
