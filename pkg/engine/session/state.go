// Package session implements the teach-back session state machine. A
// session walks created → active ⇄ correcting → examining → summarizing →
// completed, with aborted reachable from any non-terminal state. Every
// transition persists its durable record before the in-memory state flips.
package session

import (
	"github.com/luminalearn/teachback/pkg/core"
)

// State is a session lifecycle state. Stored as a lowercase string.
type State string

const (
	StateCreated     State = "created"
	StateActive      State = "active"
	StateCorrecting  State = "correcting"
	StateExamining   State = "examining"
	StateSummarizing State = "summarizing"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Event is a state machine trigger.
type Event string

const (
	EventStart       Event = "start"
	EventInterrupt   Event = "interrupt"
	EventAcknowledge Event = "acknowledge"
	EventFinish      Event = "finish_teaching"
	EventExamDone    Event = "exam_done"
	EventSummarized  Event = "summarized"
	EventAbort       Event = "abort"
)

// transitions is the complete set of legal (state, event) pairs. Terminal
// states are declared with no outgoing events; a state missing from this
// table entirely is corruption, not a transition failure.
var transitions = map[State]map[Event]State{
	StateCreated: {
		EventStart: StateActive,
		EventAbort: StateAborted,
	},
	StateActive: {
		EventInterrupt: StateCorrecting,
		EventFinish:    StateExamining,
		EventAbort:     StateAborted,
	},
	StateCorrecting: {
		EventAcknowledge: StateActive,
		EventFinish:      StateExamining,
		EventAbort:       StateAborted,
	},
	StateExamining: {
		EventExamDone: StateSummarizing,
		EventAbort:    StateAborted,
	},
	StateSummarizing: {
		EventSummarized: StateCompleted,
		EventAbort:      StateAborted,
	},
	StateCompleted: {},
	StateAborted:   {},
}

// next resolves one transition. Undefined (state, event) pairs fail with
// INVALID_STATE_TRANSITION; an undeclared state fails with STATE_CORRUPTION
// and the caller must start a new session.
func next(from State, ev Event) (State, error) {
	events, ok := transitions[from]
	if !ok {
		return "", core.Newf(core.CodeStateCorruption, "session is in undeclared state %q", from).
			WithDetail("state", string(from))
	}
	to, ok := events[ev]
	if !ok {
		return "", core.Newf(core.CodeInvalidStateTransition, "event %q is not valid in state %q", ev, from).
			WithDetail("state", string(from)).
			WithDetail("event", string(ev))
	}
	return to, nil
}
