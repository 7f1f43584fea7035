package utils

import (
	"context"

	"github.com/ignitionstack/ember/pkg/engine/errors"
)

// Result represents a generic result with error.
type Result[T any] struct {
	Value T
	Err   error
}

// ExecuteWithContext runs operation in its own goroutine and returns when it
// finishes or ctx is done, whichever comes first. When ctx wins, a value the
// operation produces later is handed to discard so it is not leaked.
func ExecuteWithContext[T any](ctx context.Context, operation func() (T, error), discard func(T)) (T, error) {
	var zero T

	// unbuffered: a result nobody receives goes to discard
	resultCh := make(chan Result[T])
	abandoned := make(chan struct{})

	go func() {
		value, err := operation()

		select {
		case resultCh <- Result[T]{Value: value, Err: err}:
		case <-abandoned:
			if err == nil && discard != nil {
				discard(value)
			}
		}
	}()

	select {
	case result := <-resultCh:
		return result.Value, result.Err

	case <-ctx.Done():
		close(abandoned)
		if ctx.Err() == context.DeadlineExceeded {
			return zero, errors.Wrap(errors.DomainExecution, errors.CodeTimeout,
				"Operation timed out", ctx.Err())
		}
		return zero, errors.Wrap(errors.DomainExecution, errors.CodeExecutionError,
			"Operation was cancelled", ctx.Err())
	}
}
