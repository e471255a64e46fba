package quiz

import "errors"

var (
	// ErrSessionAlreadyActive is returned when a chat already has a quiz in a
	// non-terminal state.
	ErrSessionAlreadyActive = errors.New("a quiz is already active in this chat")
	// ErrStaleEvent marks an answer event whose poll is unknown or whose
	// session never reached the active state. Discarded, not surfaced.
	ErrStaleEvent = errors.New("stale poll event")
	// ErrLateAnswer marks an answer event that arrived after the quiz closed.
	// Distinguishable so the transport can tell the participant.
	ErrLateAnswer = errors.New("answer arrived after the quiz closed")
	// ErrInvalidDuration is returned for a non-positive quiz duration.
	ErrInvalidDuration = errors.New("quiz duration must be positive")
	// ErrWrongState is returned when an operation does not apply to the
	// session's current state.
	ErrWrongState = errors.New("operation not allowed in current session state")
)
