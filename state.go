package uvloop

import "sync/atomic"

// LoopState is the loop's lifecycle state, per spec §5's state machine:
//
//	Awake -> Running -> Terminating -> Terminated
//
// Awake is pre-Start. Running covers both "dispatching work" and
// "blocked in the reactor" — those are not distinguished at this level
// since both accept new work. Terminating begins at the first Stop
// phase and ends when the loop goroutine exits.
type LoopState uint32

const (
	StateAwake LoopState = iota
	StateRunning
	StateTerminating
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// FastState is a lock-free state machine, cache-line padded to avoid false
// sharing with neighboring fields under concurrent Load from producers.
type FastState struct { // betteralign:ignore
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func NewFastState() *FastState {
	s := &FastState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *FastState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *FastState) Store(state LoopState) { s.v.Store(uint32(state)) }

func (s *FastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// CanAcceptWork reports whether the loop will currently accept Post/PostAsync
// submissions; false once Terminating has begun.
func (s *FastState) CanAcceptWork() bool {
	state := s.Load()
	return state == StateAwake || state == StateRunning
}
