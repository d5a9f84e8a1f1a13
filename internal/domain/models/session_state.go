package models

import (
	"fmt"
)

// SessionState is the runtime state of a voice session's turn loop.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateListening    SessionState = "listening"
	StateTranscribing SessionState = "transcribing"
	StateReasoning    SessionState = "reasoning"
	StateSpeaking     SessionState = "speaking"
	StateClosing      SessionState = "closing"
	StateClosed       SessionState = "closed"
)

// SessionTransition represents a state transition
type SessionTransition struct {
	From SessionState
	To   SessionState
}

// validTransitions defines the allowed state transitions for a session.
// Every non-terminal state may move to closing; closed is terminal.
var validTransitions = map[SessionTransition]bool{
	// Track subscribed.
	{StateIdle, StateListening}: true,

	// Voice activity started.
	{StateListening, StateTranscribing}: true,

	// Final transcript: non-empty opens a turn, empty returns to listening.
	{StateTranscribing, StateReasoning}: true,
	{StateTranscribing, StateListening}: true,

	// Reply received; or turn aborted (timeout); or barge-in cancels the
	// in-flight reasoning call.
	{StateReasoning, StateSpeaking}:     true,
	{StateReasoning, StateListening}:    true,
	{StateReasoning, StateTranscribing}: true,

	// Playback finished; or barge-in cancels the stream at a chunk boundary.
	{StateSpeaking, StateListening}:    true,
	{StateSpeaking, StateTranscribing}: true,

	{StateClosing, StateClosed}: true,
}

// ValidateTransition checks if a state transition is valid and returns an error if not
func ValidateTransition(from, to SessionState) error {
	// No-op transition is always valid
	if from == to {
		return nil
	}

	// Any live state may begin shutdown.
	if to == StateClosing && from != StateClosed {
		return nil
	}

	transition := SessionTransition{From: from, To: to}
	if !validTransitions[transition] {
		return NewInvalidTransitionError(from, to)
	}

	return nil
}

// IsValidTransition checks if a transition between two states is valid
func IsValidTransition(from, to SessionState) bool {
	return ValidateTransition(from, to) == nil
}

// GetValidTransitions returns all valid transitions from a given state
func GetValidTransitions(from SessionState) []SessionState {
	validStates := make([]SessionState, 0)

	for transition := range validTransitions {
		if transition.From == from {
			validStates = append(validStates, transition.To)
		}
	}
	if from != StateClosing && from != StateClosed {
		validStates = append(validStates, StateClosing)
	}

	return validStates
}

// IsTerminal reports whether no further transitions can leave the state.
func (s SessionState) IsTerminal() bool {
	return s == StateClosed
}

// Live reports whether the session loop is serving the conversation,
// past setup and before shutdown.
func (s SessionState) Live() bool {
	switch s {
	case StateListening, StateTranscribing, StateReasoning, StateSpeaking:
		return true
	}
	return false
}

// InvalidTransitionError represents an error for invalid state transitions
type InvalidTransitionError struct {
	From SessionState
	To   SessionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition from '%s' to '%s'", e.From, e.To)
}

// NewInvalidTransitionError creates a new InvalidTransitionError
func NewInvalidTransitionError(from, to SessionState) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to}
}
