package orchestration

import "slices"

// TurnState is the controller's position in the listen, process, speak
// cycle. Only Listening accepts new recognition results.
type TurnState int

const (
	StateIdle TurnState = iota
	StateListening
	StateDispatching
	StateAwaitingResponse
	StateSpeaking
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSpeaking:
		return "speaking"
	}
	return "unknown"
}

var allowedTransitions = map[TurnState][]TurnState{
	StateIdle:             {StateListening},
	StateListening:        {StateDispatching, StateIdle},
	StateDispatching:      {StateAwaitingResponse, StateIdle},
	StateAwaitingResponse: {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:         {StateListening, StateIdle},
}

func (s TurnState) CanTransitionTo(next TurnState) bool {
	return slices.Contains(allowedTransitions[s], next)
}
