package calls

import (
	"sync"
	"time"
)

var transitions = map[CallState][]CallState{
	StateRinging:   {StateAnswering, StateEnding, StateFailed},
	StateAnswering: {StateConnected, StateEnding, StateFailed},
	StateConnected: {StateHold, StateEnding, StateFailed},
	StateHold:      {StateConnected, StateEnding, StateFailed},
	StateEnding:    {StateEnded, StateFailed},
	StateEnded:     nil,
	StateFailed:    nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to CallState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves s.
func IsTerminal(s CallState) bool {
	return s == StateEnded || s == StateFailed
}

// Transition is one entry of a state machine's history.
type Transition struct {
	From CallState `json:"from"`
	To   CallState `json:"to"`
	At   time.Time `json:"at"`
}

// StateMachine tracks the state of a single call. History is append-only and
// records successful transitions only.
type StateMachine struct {
	mu      sync.Mutex
	current CallState
	history []Transition
	clock   func() time.Time
}

type StateMachineOption func(*StateMachine)

func WithClock(clock func() time.Time) StateMachineOption {
	return func(m *StateMachine) { m.clock = clock }
}

// NewStateMachine starts in ringing unless another initial state is given.
func NewStateMachine(initial CallState, opts ...StateMachineOption) *StateMachine {
	if initial == "" {
		initial = StateRinging
	}
	m := &StateMachine{current: initial, clock: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *StateMachine) Current() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *StateMachine) CanTransition(to CallState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CanTransition(m.current, to)
}

// Transition moves to the target state or returns a *TransitionError and leaves
// the machine untouched.
func (m *StateMachine) Transition(to CallState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.current, to) {
		return &TransitionError{From: m.current, To: to}
	}
	m.history = append(m.history, Transition{From: m.current, To: to, At: m.clock()})
	m.current = to
	return nil
}

func (m *StateMachine) IsTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return IsTerminal(m.current)
}

// History returns a copy of the recorded transitions, oldest first.
func (m *StateMachine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}
