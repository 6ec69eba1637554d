package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned before any network I/O when the API
	// token is absent.
	ErrNotConfigured = errors.New("platform: api token not configured")

	// ErrRateLimited is returned after the 429 retry budget is exhausted.
	ErrRateLimited = errors.New("platform: rate limited")

	// ErrNoInstanceForEnvironment is returned when no service instance
	// matches the requested environment.
	ErrNoInstanceForEnvironment = errors.New("platform: no service instance for environment")

	// ErrNoDeployment is returned when the matched instance has no
	// deployment yet.
	ErrNoDeployment = errors.New("platform: instance has no deployment")

	// ErrNoRollbackTarget is returned when fewer than two successful
	// deployments exist, so there is nothing to roll back to.
	ErrNoRollbackTarget = errors.New("platform: no previous successful deployment")
)

// APIError carries the joined messages of a GraphQL errors array.
type APIError struct {
	Messages string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error: %s", e.Messages)
}

// TransportError wraps a network or decoding failure.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// StatusError reports a non-retryable HTTP status from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform http %d: %s", e.Code, e.Body)
}
