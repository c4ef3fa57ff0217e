package executor

import (
	"errors"
	"fmt"

	"AutoScript/internal/retry"
)

// ErrExhaustedRetries matches the terminal error returned once every attempt has failed.
var ErrExhaustedRetries = retry.ErrExhausted

// DefaultFallback is shown to the user when no flow-specific fallback was supplied.
const DefaultFallback = "Sorry, I hit a snag after several tries. Please try again."

// NetworkError is a transport-level failure: the request never produced an HTTP response
// or the response body could not be read.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError is a non-success HTTP status from the completion service.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("API call failed with status %d: %s", e.StatusCode, e.Body)
}

// MalformedError means the body was not the expected choices[0].message.content shape.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed response: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ExhaustedError is returned after the final attempt failed. Fallback is the message a UI
// shell should show in place of a result.
type ExhaustedError struct {
	Attempts int
	Last     error
	Fallback string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Last}
}

// FallbackMessage returns the user-facing text carried by an exhausted error, if any.
func FallbackMessage(err error) (string, bool) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Fallback, true
	}
	return "", false
}

// failureKind names the class of a failed attempt for logs and metrics.
func failureKind(err error) string {
	var (
		netErr     *NetworkError
		serviceErr *ServiceError
		malformed  *MalformedError
	)
	switch {
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &serviceErr):
		return "service"
	case errors.As(err, &malformed):
		return "malformed"
	default:
		return "rejected"
	}
}
