package domain

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the supplied credential was rejected. It is fatal for the
// whole run.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitedError is transient: the caller is expected to sleep until Reset
// and retry. The gateway normally absorbs these internally.
type RateLimitedError struct {
	Reset time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
}

// NetworkError marks a per-repository fetch or clone failure. The affected
// repository is logged and skipped; the run continues.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ToolUnavailableError means an external executable (git, cloc) could not be
// found. Detected at startup it is fatal; per-invocation failures only
// degrade the affected repository's data.
type ToolUnavailableError struct {
	Tool string
	Err  error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("tool %q unavailable: %v", e.Tool, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error { return e.Err }

// IsAuthError checks whether err is (or wraps) an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsToolUnavailable checks whether err is (or wraps) a missing-tool failure.
func IsToolUnavailable(err error) bool {
	var te *ToolUnavailableError
	return errors.As(err, &te)
}
