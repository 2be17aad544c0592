package speech

import "time"

// DefaultTimeout bounds every session started without an explicit watchdog.
const DefaultTimeout = 30 * time.Second

// State is the lifecycle position of a speech session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen without a new start.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
