package relay

// State is the controller lifecycle. Transitions only move forward:
// Uninitialized → Verifying → Running → Stopping → Stopped, and any pre-start
// failure goes straight to Stopped.
type State int32

const (
	StateUninitialized State = iota
	StateVerifying
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateVerifying:
		return "verifying"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
