package uvloop

import "testing"

func TestFastState_InitialStateIsAwake(t *testing.T) {
	s := NewFastState()
	if s.Load() != StateAwake {
		t.Fatalf("expected StateAwake, got %v", s.Load())
	}
	if !s.CanAcceptWork() {
		t.Fatal("expected CanAcceptWork() true in Awake state")
	}
}

func TestFastState_TryTransition(t *testing.T) {
	s := NewFastState()
	if !s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("expected Awake->Running transition to succeed")
	}
	if s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("expected stale Awake->Running transition to fail")
	}
	if s.Load() != StateRunning {
		t.Fatalf("expected StateRunning, got %v", s.Load())
	}
}

func TestFastState_CanAcceptWorkFalseAfterTerminating(t *testing.T) {
	s := NewFastState()
	s.Store(StateTerminating)
	if s.CanAcceptWork() {
		t.Fatal("expected CanAcceptWork() false once terminating")
	}
	s.Store(StateTerminated)
	if s.CanAcceptWork() {
		t.Fatal("expected CanAcceptWork() false once terminated")
	}
}
