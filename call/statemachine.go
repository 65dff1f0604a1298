package call

import (
	"fmt"
	"sync"
)

// State is the authoritative session state. A session moves
// idle → initializing → ringing → connecting → connected → ended on the happy
// path; failed is reachable from initializing, ringing, connecting, and
// connected; ended is reachable from every non-idle state. Idle is both the
// initial state and terminal-reentrant: after cleanup the machine resets to
// idle, ready for the next call or disposal.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateRinging
	StateConnecting
	StateConnected
	StateEnded
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s ends the call attempt.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Event drives state transitions.
type Event int

const (
	// EventStart begins a call attempt (outgoing or answering).
	EventStart Event = iota
	// EventOfferSent marks the caller's offer as published.
	EventOfferSent
	// EventAnswerSent marks the callee's answer as published; the callee
	// skips ringing in its own machine.
	EventAnswerSent
	// EventAnswerReceived marks the remote answer as observed by the caller.
	EventAnswerReceived
	// EventConnected marks the media engine reporting connectivity.
	EventConnected
	// EventTimeout marks the no-answer window elapsing.
	EventTimeout
	// EventRemoteRejected marks the callee declining.
	EventRemoteRejected
	// EventHangup marks a local or remote hangup.
	EventHangup
	// EventConnectionFailed marks ICE retries being exhausted.
	EventConnectionFailed
	// EventReset returns a terminal machine to idle after cleanup.
	EventReset
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventOfferSent:
		return "offer_sent"
	case EventAnswerSent:
		return "answer_sent"
	case EventAnswerReceived:
		return "answer_received"
	case EventConnected:
		return "connected"
	case EventTimeout:
		return "timeout"
	case EventRemoteRejected:
		return "remote_rejected"
	case EventHangup:
		return "hangup"
	case EventConnectionFailed:
		return "connection_failed"
	case EventReset:
		return "reset"
	}
	return "unknown"
}

// InvalidTransitionError reports an event that is not legal in the current
// state. Callers must not mutate call data when a transition is rejected.
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s in state %s", e.Event, e.From)
}

// transitions is the full transition table. Absent entries are invalid.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart: StateInitializing,
	},
	StateInitializing: {
		EventOfferSent:        StateRinging,
		EventAnswerSent:       StateConnecting,
		EventRemoteRejected:   StateEnded,
		EventHangup:           StateEnded,
		EventConnectionFailed: StateFailed,
		EventTimeout:          StateFailed,
	},
	StateRinging: {
		EventAnswerReceived:   StateConnecting,
		EventTimeout:          StateFailed,
		EventRemoteRejected:   StateEnded,
		EventHangup:           StateEnded,
		EventConnectionFailed: StateFailed,
	},
	StateConnecting: {
		EventConnected:        StateConnected,
		EventConnectionFailed: StateFailed,
		EventHangup:           StateEnded,
	},
	StateConnected: {
		EventConnectionFailed: StateFailed,
		EventHangup:           StateEnded,
	},
	StateEnded: {
		EventReset: StateIdle,
	},
	StateFailed: {
		EventHangup: StateEnded,
		EventReset:  StateIdle,
	},
}

// StateMachine holds the call state and enforces the transition table.
// It is safe for concurrent use, though the session already serializes
// access.
type StateMachine struct {
	mu     sync.Mutex
	state  State
	reason string
}

// NewStateMachine creates a machine in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FailureReason returns the reason recorded by the last transition into
// StateFailed, or "" if the machine has not failed since the last reset.
func (m *StateMachine) FailureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Transition applies event and returns the new state. Invalid transitions
// return an *InvalidTransitionError and leave the state unchanged.
func (m *StateMachine) Transition(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := transitions[m.state][event]
	if !ok {
		return m.state, &InvalidTransitionError{From: m.state, Event: event}
	}

	m.state = next
	switch {
	case next == StateFailed && event == EventTimeout:
		m.reason = FailureReasonTimeout
	case next == StateFailed && event == EventConnectionFailed:
		m.reason = FailureReasonConnectionFailed
	case next == StateIdle:
		m.reason = ""
	}
	return next, nil
}

// Fail transitions into StateFailed with an explicit reason, for setup
// failures that carry neither a timeout nor an ICE failure event.
func (m *StateMachine) Fail(reason string) (State, error) {
	state, err := m.Transition(EventConnectionFailed)
	if err != nil {
		return state, err
	}
	m.mu.Lock()
	m.reason = reason
	m.mu.Unlock()
	return state, nil
}
