package quiz

// Status is the lifecycle state of a quiz session.
type Status int

const (
	StatusCreated Status = iota
	StatusAwaitingDuration
	StatusDispatching
	StatusActive
	StatusClosing
	StatusCompleted
	StatusCancelled
)

// Terminal reports whether the session has finished its lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusAwaitingDuration:
		return "awaiting_duration"
	case StatusDispatching:
		return "dispatching"
	case StatusActive:
		return "active"
	case StatusClosing:
		return "closing"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
