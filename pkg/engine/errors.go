package engine

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ignitionstack/ember/pkg/artifact"
	domainerrors "github.com/ignitionstack/ember/pkg/engine/errors"
	"github.com/ignitionstack/ember/pkg/registry"
)

// Common engine errors
var (
	ErrNoRegistry      = fmt.Errorf("engine has no registry")
	ErrBodyTooLarge    = fmt.Errorf("request body too large")
	ErrInvalidManifest = fmt.Errorf("invalid manifest")
)

// RequestError is an admin API failure with the status to answer with.
type RequestError struct {
	Message    string `json:"error"`
	StatusCode int    `json:"status"`
	cause      error
}

func (e RequestError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e RequestError) Unwrap() error {
	return e.cause
}

func (e RequestError) WithCause(cause error) RequestError {
	e.cause = cause
	return e
}

func NewNotFoundError(message string) RequestError {
	return RequestError{
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewBadRequestError(message string) RequestError {
	return RequestError{
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewInternalServerError(message string) RequestError {
	return RequestError{
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// toRequestError maps any handler error to the response the admin API
// writes. Invocation outcomes keep their status and public message.
func toRequestError(err error) RequestError {
	var reqErr RequestError
	var de *domainerrors.DomainError
	switch {
	case errors.As(err, &reqErr):
		return reqErr
	case errors.As(err, &de) && de.ErrDomain == domainerrors.DomainInvoke:
		return RequestError{Message: domainerrors.PublicMessage(err), StatusCode: domainerrors.StatusCode(err)}
	case registry.IsNotFound(err):
		return RequestError{Message: err.Error(), StatusCode: http.StatusNotFound}
	case errors.Is(err, ErrInvalidManifest), errors.Is(err, artifact.ErrInvalidArtifact):
		return RequestError{Message: err.Error(), StatusCode: http.StatusBadRequest}
	case errors.Is(err, ErrBodyTooLarge):
		return RequestError{Message: err.Error(), StatusCode: http.StatusRequestEntityTooLarge}
	default:
		return RequestError{Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}
}
