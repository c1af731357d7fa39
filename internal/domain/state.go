// Package domain holds the core types of the card dialog.
package domain

import (
	"errors"
	"fmt"
)

// State is a position in the dialog flow.
type State int

// Dialog states, in flow order.
const (
	StateIdle State = iota
	StateAwaitingState
	StateAwaitingMetaphor
	StateAwaitingCard1Reply
	StateAwaitingCard2Reply
	StateAwaitingCard3Reply
	StateAwaitingMeaningChoice
	StateCompleted
)

// AllStates lists every state in flow order.
var AllStates = []State{
	StateIdle,
	StateAwaitingState,
	StateAwaitingMetaphor,
	StateAwaitingCard1Reply,
	StateAwaitingCard2Reply,
	StateAwaitingCard3Reply,
	StateAwaitingMeaningChoice,
	StateCompleted,
}

var stateNames = map[State]string{
	StateIdle:                  "IDLE",
	StateAwaitingState:         "AWAITING_STATE",
	StateAwaitingMetaphor:      "AWAITING_METAPHOR",
	StateAwaitingCard1Reply:    "AWAITING_CARD1_REPLY",
	StateAwaitingCard2Reply:    "AWAITING_CARD2_REPLY",
	StateAwaitingCard3Reply:    "AWAITING_CARD3_REPLY",
	StateAwaitingMeaningChoice: "AWAITING_MEANING_CHOICE",
	StateCompleted:             "COMPLETED",
}

// transitions is the flow graph. A state missing here has no way forward,
// which TestTransitionTableCoversAllStates guards against.
var transitions = map[State][]State{
	StateIdle:                  {StateAwaitingState},
	StateAwaitingState:         {StateAwaitingMetaphor},
	StateAwaitingMetaphor:      {StateAwaitingCard1Reply},
	StateAwaitingCard1Reply:    {StateAwaitingCard2Reply},
	StateAwaitingCard2Reply:    {StateAwaitingCard3Reply, StateCompleted},
	StateAwaitingCard3Reply:    {StateAwaitingMeaningChoice, StateCompleted},
	StateAwaitingMeaningChoice: {StateCompleted},
	StateCompleted:             {StateAwaitingState},
}

// ErrInvalidTransition is returned when a move is not an edge of the flow graph.
var ErrInvalidTransition = errors.New("invalid state transition")

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return StateIdle, fmt.Errorf("unknown state %q", name)
}

// CanTransition reports whether to is a direct successor of from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Successors returns the states reachable from s in one step.
func Successors(s State) []State {
	next := transitions[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// CardsRequired is the number of card artifacts a session must hold on
// entering s.
func CardsRequired(s State) int {
	switch s {
	case StateAwaitingCard1Reply:
		return 1
	case StateAwaitingCard2Reply:
		return 2
	case StateAwaitingCard3Reply:
		return 3
	default:
		return 0
	}
}
