package domain

import "fmt"

// State is the workflow position of a session.
type State string

const (
	StateAwaitingTopic        State = "awaiting_topic"
	StateSelectingSubtopics   State = "selecting_subtopics"
	StateSearchingAndScoring  State = "searching_and_scoring"
	StateSelectingStyle       State = "selecting_style"
	StateConfirmingGeneration State = "confirming_generation"
	StateCompleted            State = "completed"
	StateCancelled            State = "cancelled"
	StateFailed               State = "failed"
	StateSelectingCheckpoint  State = "selecting_checkpoint"
)

// validTransitions lists the forward edges of the workflow. The only back-edge is
// ConfirmingGeneration -> SelectingStyle ("change style"). A search that fails or
// finds nothing ends in Failed; the operator re-enters through /resume. Start and
// resume requests open a new chain and are not listed here.
var validTransitions = map[State][]State{
	StateAwaitingTopic:        {StateSelectingSubtopics, StateCancelled, StateFailed},
	StateSelectingSubtopics:   {StateSearchingAndScoring, StateCancelled, StateFailed},
	StateSearchingAndScoring:  {StateSelectingStyle, StateCancelled, StateFailed},
	StateSelectingStyle:       {StateConfirmingGeneration, StateCancelled, StateFailed},
	StateConfirmingGeneration: {StateCompleted, StateSelectingStyle, StateCancelled, StateFailed},
	StateSelectingCheckpoint: {
		StateSelectingSubtopics, StateSelectingStyle, StateConfirmingGeneration,
		StateAwaitingTopic, StateCancelled, StateFailed,
	},
}

// CanTransition reports whether moving from one state to another is allowed.
// Staying in the same state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Known reports whether s is part of the closed enumeration.
func (s State) Known() bool {
	if s == StateCompleted || s == StateCancelled || s == StateFailed {
		return true
	}
	_, ok := validTransitions[s]
	return ok
}

// ErrInvalidTransition is returned when a handler attempts an edge that is not in the table.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
