package uvloop

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestByteChannel_AwaitDeliversWrittenBytes(t *testing.T) {
	ch := NewByteChannel(NewSlabPool(16))
	if err := ch.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	begin, end, err := ch.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ByteCount(begin, end); got != 5 {
		t.Fatalf("expected 5 bytes, got %d", got)
	}
	data := flatten(begin, end, 5)
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", data)
	}
}

func TestByteChannel_AdvanceReleasesBlocks(t *testing.T) {
	pool := NewSlabPool(4) // Write asks for len(p), so 10 bytes get one oversized block
	ch := NewByteChannel(pool)
	if err := ch.Write([]byte("helloworld")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	begin, end, err := ch.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ByteCount(begin, end); got != 10 {
		t.Fatalf("expected 10 bytes, got %d", got)
	}
	ch.Advance(end)
	ch.Write([]byte("!"))
	begin2, end2, err := ch.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ByteCount(begin2, end2); got != 1 {
		t.Fatalf("expected 1 byte after advance+new write, got %d", got)
	}
}

func TestByteChannel_CloseWithNoDataYieldsEOF(t *testing.T) {
	ch := NewByteChannel(NewSlabPool(16))
	ch.Close()
	_, _, err := ch.Await(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestByteChannel_CancelWakesAwait(t *testing.T) {
	ch := NewByteChannel(NewSlabPool(16))
	done := make(chan error, 1)
	go func() {
		_, _, err := ch.Await(context.Background())
		done <- err
	}()
	ch.Cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrChannelCancelled) {
			t.Fatalf("expected ErrChannelCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not wake up on Cancel")
	}
}

func TestByteChannel_WriteAfterCloseFails(t *testing.T) {
	ch := NewByteChannel(NewSlabPool(16))
	ch.Close()
	if err := ch.Write([]byte("x")); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}
