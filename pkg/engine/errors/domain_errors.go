package errors

import (
	"errors"
	"fmt"
)

// Domain enumerates the possible error domains
type Domain string

const (
	DomainEngine    Domain = "engine"
	DomainArtifact  Domain = "artifact"
	DomainExecution Domain = "execution"
	DomainInvoke    Domain = "invoke"
	DomainRegistry  Domain = "registry"
)

// Code enumerates possible error codes for each domain
type Code string

// Engine error codes
const (
	CodeNotInitialized Code = "not_initialized"
	CodeShutdown       Code = "shutdown"
	CodeInvalidConfig  Code = "invalid_config"
	CodeInternalError  Code = "internal_error"
)

// Artifact error codes, produced while loading into the cache
const (
	CodeArtifactNotFound Code = "artifact_not_found"
	CodeLoadFailed       Code = "load_failed"
	CodeLoadTimeout      Code = "load_timeout"
)

// Execution error codes, produced by a backend
const (
	// CodeFaulted: the artifact panicked, trapped, crashed or produced no output
	CodeFaulted Code = "faulted"
	// CodeTimeout: the deadline elapsed before the call completed
	CodeTimeout Code = "timeout"
	// CodeExhausted: the backend could not obtain an execution resource at all
	CodeExhausted      Code = "exhausted"
	CodeCircuitOpen    Code = "circuit_breaker_open"
	CodeExecutionError Code = "execution_failed"
)

// Invocation outcome codes, the only codes the edge ever sees
const (
	CodeNotFound         Code = "not_found"
	CodeUnavailable      Code = "unavailable"
	CodeFunctionError    Code = "function_error"
	CodeDeadlineExceeded Code = "deadline_exceeded"
	CodeBadResponse      Code = "bad_response"
)

// Registry error codes
const (
	CodeFunctionNotFound Code = "function_not_found"
	CodeVersionNotFound  Code = "version_not_found"
	CodeRegistryError    Code = "registry_error"
)

// DomainError represents a domain-specific error.
type DomainError struct {
	// The error domain (engine, artifact, execution, ...)
	ErrDomain Domain

	// Error code unique within the domain
	ErrCode Code

	// Human-readable error message
	Message string

	// Function reference ("id@version") the error relates to, if any
	Ref     string
	Details map[string]interface{}

	// Original error that caused this one, if any
	Cause error
}

// Error returns the error message.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.ErrDomain, e.ErrCode, e.Message)

	if e.Ref != "" {
		msg = fmt.Sprintf("%s (function: %s)", msg, e.Ref)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the cause of this error
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Domain returns the error domain
func (e *DomainError) Domain() Domain {
	return e.ErrDomain
}

// Code returns the error code
func (e *DomainError) Code() Code {
	return e.ErrCode
}

// New creates a new DomainError.
func New(domain Domain, code Code, message string) *DomainError {
	return &DomainError{
		ErrDomain: domain,
		ErrCode:   code,
		Message:   message,
	}
}

// Wrap wraps an error with domain context.
func Wrap(domain Domain, code Code, message string, err error) *DomainError {
	return &DomainError{
		ErrDomain: domain,
		ErrCode:   code,
		Message:   message,
		Cause:     err,
	}
}

// WithRef adds the function reference
func (e *DomainError) WithRef(ref string) *DomainError {
	e.Ref = ref
	return e
}

// WithCause adds the causing error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetails adds additional context details
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// Is checks if an error is a DomainError with the specified domain and code.
func Is(err error, domain Domain, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.ErrDomain == domain && de.ErrCode == code
	}
	return false
}

// As returns the outermost DomainError in err's chain.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
