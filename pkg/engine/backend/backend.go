// Package backend contains the execution strategies that run a loaded
// artifact against an encoded request.
package backend

import (
	"context"
	stderrors "errors"

	"github.com/ignitionstack/ember/pkg/artifact"
	"github.com/ignitionstack/ember/pkg/engine/components"
	"github.com/ignitionstack/ember/pkg/engine/errors"
)

// Backend is an execution strategy. Load produces what Invoke later runs;
// the artifact cache holds the result between the two. The invocation
// deadline is the deadline of the context passed to Invoke.
//
// Invoke returns the encoded response or a DomainExecution error with one of
// CodeFaulted, CodeTimeout or CodeExhausted.
type Backend interface {
	Name() string
	Load(ctx context.Context, ref artifact.Reference, loc artifact.Location) (artifact.Module, error)
	Invoke(ctx context.Context, h *components.Handle, request []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// Detail keys set on faulted errors
const (
	DetailPanic    = "panic"
	DetailStack    = "stack"
	DetailStderr   = "stderr"
	DetailExitCode = "exit_code"
)

func faulted(h *components.Handle, message string, cause error, details map[string]interface{}) error {
	return errors.Wrap(errors.DomainExecution, errors.CodeFaulted, message, cause).
		WithRef(h.Ref().String()).
		WithDetails(details)
}

func timedOut(h *components.Handle, cause error) error {
	message := "Deadline elapsed before the call completed"
	if stderrors.Is(cause, context.Canceled) {
		message = "Call was cancelled"
	}
	return errors.Wrap(errors.DomainExecution, errors.CodeTimeout, message, cause).
		WithRef(h.Ref().String())
}

func exhausted(h *components.Handle, message string, cause error) error {
	return errors.Wrap(errors.DomainExecution, errors.CodeExhausted, message, cause).
		WithRef(h.Ref().String())
}
