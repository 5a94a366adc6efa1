package delivery

import (
	"time"

	"vidrelay.app/relay/internal/transport"
)

// Outcome is the terminal state of one delivery sequence.
type Outcome int

const (
	// Delivered means the item reached the destination.
	Delivered Outcome = iota

	// Abandoned means retries were exhausted, the failure was not retryable,
	// or the relay shut down at a retry boundary.
	Abandoned

	// FatalPermission means the destination refuses writes from this account.
	// Retrying cannot help until an operator fixes the channel membership.
	FatalPermission
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Abandoned:
		return "abandoned"
	case FatalPermission:
		return "fatal_permission"
	default:
		return "unknown"
	}
}

// Result describes how a delivery sequence ended.
type Result struct {
	Outcome     Outcome
	Attempts    int
	LastFailure transport.FailureKind
	Err         error

	// ServerWait is the total time spent honouring rate-limit and slow-mode waits.
	ServerWait time.Duration

	// Interrupted is set when the context was cancelled at a retry boundary.
	Interrupted bool
}
