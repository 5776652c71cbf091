package uvloop

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestRegistry_AddWiresSocketChannelAndPump(t *testing.T) {
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

	reg := NewRegistry(l)
	l.SetConnectionManager(reg)
	pool := NewSlabPool(64)

	conn, ch, err := reg.Add(fds[0], pool, NewNoopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if conn == nil || ch == nil {
		t.Fatal("expected non-nil connection and channel")
	}

	if err := ch.Write([]byte("reg")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	deadline := time.Now().Add(time.Second)
	var got []byte
	for len(got) < 3 && time.Now().Before(deadline) {
		n, rerr := unix.Read(fds[1], buf)
		if rerr != nil {
			continue
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "reg" {
		t.Fatalf("expected %q, got %q", "reg", got)
	}
}

func TestRegistry_WalkAndCloseAllDrainsTrackedConnections(t *testing.T) {
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

	reg := NewRegistry(l)
	l.SetConnectionManager(reg)
	pool := NewSlabPool(64)

	if _, _, err := reg.Add(fds[0], pool, NewNoopLogger()); err != nil {
		t.Fatal(err)
	}

	ok, err := reg.WalkAndCloseAll(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected all connections to close within the timeout")
	}
}
