package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSecondFactorRequired means the account has 2FA enabled and no password was configured.
	ErrSecondFactorRequired = errors.New("two-factor authentication is enabled, set TELEGRAM_2FA_PASSWORD")

	// ErrNotAuthorized means the stored session is missing or revoked and no phone was configured.
	ErrNotAuthorized = errors.New("session is not authorized")

	ErrNotConnected = errors.New("transport not connected")
)

type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

type ResolveError struct {
	Ref string
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %q: %v", e.Ref, e.Err)
}
func (e *ResolveError) Unwrap() error { return e.Err }

type FailureKind string

const (
	FailureRateLimit      FailureKind = "rate_limit"
	FailureSlowMode       FailureKind = "slow_mode"
	FailureWriteForbidden FailureKind = "write_forbidden"
	FailureUserBanned     FailureKind = "user_banned"
	FailureMediaEmpty     FailureKind = "media_empty"
	FailureProtocol       FailureKind = "protocol"
	FailureUnknown        FailureKind = "unknown"
)

// ForwardError is the failure taxonomy of a single forward call.
// Wait is set for FailureRateLimit and FailureSlowMode.
type ForwardError struct {
	Kind   FailureKind
	Wait   time.Duration
	Detail string
	Err    error
}

func (e *ForwardError) Error() string {
	msg := string(e.Kind)
	if e.Wait > 0 {
		msg += fmt.Sprintf(" (wait %s)", e.Wait)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ForwardError) Unwrap() error { return e.Err }

// KindOf classifies any error returned by Forward. Errors that are not a
// *ForwardError are FailureUnknown.
func KindOf(err error) (FailureKind, time.Duration) {
	var fe *ForwardError
	if errors.As(err, &fe) {
		return fe.Kind, fe.Wait
	}
	return FailureUnknown, 0
}
