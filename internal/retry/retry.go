package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is matched by every error returned once all attempts have failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// BackoffFunc returns the wait before the attempt that follows attempt n (1-based).
type BackoffFunc func(attempt int) time.Duration

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes how many times an operation is attempted and how long to wait in between.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Sleep       SleepFunc

	// OnFailure is called after every failed attempt, before any wait.
	OnFailure func(attempt int, err error)
}

// Exponential returns a BackoffFunc that starts at initial and doubles each attempt.
func Exponential(initial time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return initial << (attempt - 1)
	}
}

// DefaultPolicy is five attempts with 1s, 2s, 4s, 8s waits in between.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Backoff:     Exponential(time.Second),
		Sleep:       Sleep,
	}
}

// Sleep blocks for d, returning early with ctx.Err() if the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Result is the outcome of Do: either a value after Attempts tries, or an error.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// Do runs op until it succeeds, the policy runs out of attempts, or ctx is cancelled.
// Attempts are strictly sequential. A cancelled context ends the loop with the context error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) Result[T] {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{Attempts: attempt - 1, Err: err}
		}

		value, err := op(ctx, attempt)
		if err == nil {
			return Result[T]{Value: value, Attempts: attempt}
		}
		last = err

		if p.OnFailure != nil {
			p.OnFailure(attempt, err)
		}
		// A failure caused by cancellation is not a retryable failure, even on the last attempt
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result[T]{Attempts: attempt, Err: ctxErr}
		}
		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if err := sleep(ctx, wait); err != nil {
			return Result[T]{Attempts: attempt, Err: err}
		}
	}

	return Result[T]{Attempts: maxAttempts, Err: &ExhaustedError{Attempts: maxAttempts, Last: last}}
}
