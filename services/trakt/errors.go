package trakt

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure taxonomy surfaced to callers. Match with errors.Is.
var (
	// ErrUnauthorized means the token is invalid or expired and refreshing
	// it also failed.
	ErrUnauthorized = errors.New("trakt: unauthorized")
	// ErrRateLimited means the remote rejected the call for exceeding limits.
	ErrRateLimited = errors.New("trakt: rate limited")
	// ErrNotFound means the remote entity is absent. Used for match
	// failures; not treated as fatal by callers.
	ErrNotFound = errors.New("trakt: not found")
	// ErrTransient means a network or server failure that persisted through
	// the client's retry policy.
	ErrTransient = errors.New("trakt: transient failure")
	// ErrMalformed means the response did not parse against the expected
	// contract.
	ErrMalformed = errors.New("trakt: malformed response")
	// ErrInvalidArgument means a required argument was missing or out of range.
	ErrInvalidArgument = errors.New("trakt: invalid argument")

	// ErrDeviceCodeExpired means the user did not authorize before the
	// device code's deadline.
	ErrDeviceCodeExpired = errors.New("trakt: device code expired")
)

// classifyStatus maps a non-2xx HTTP status onto the failure taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w (status %d)", ErrNotFound, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d)", ErrRateLimited, status)
	default:
		return fmt.Errorf("%w (status %d)", ErrTransient, status)
	}
}

// retryable reports whether a failed attempt should consume another retry.
// Auth and not-found failures won't improve on a second attempt.
func retryable(err error) bool {
	return !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMalformed)
}
