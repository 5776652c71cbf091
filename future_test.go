package uvloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_WaitReturnsSettledValue(t *testing.T) {
	f := newFuture()
	f.settle(nil)
	if err := f.Wait(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestFuture_WaitBlocksUntilSettle(t *testing.T) {
	f := newFuture()
	want := errors.New("boom")
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.settle(want)
	}()
	if err := f.Wait(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestFuture_SettleOnlyFirstWins(t *testing.T) {
	f := newFuture()
	f.settle(errors.New("first"))
	f.settle(errors.New("second"))
	err := f.Wait(context.Background())
	if err == nil || err.Error() != "first" {
		t.Fatalf("expected first settlement to win, got %v", err)
	}
}

func TestFuture_WaitRespectsContextCancellation(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
