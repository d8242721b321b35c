package api

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a pipeline error.
type ErrorKind string

const (
	// ErrorKindMalformedToken means a token could not be decoded as a
	// claim set (bad segment count, bad base64, bad JSON).
	ErrorKindMalformedToken ErrorKind = "malformed_token"

	// ErrorKindAuthenticationFailure means signature or expiry
	// verification rejected the token. Surfaced to the request
	// originator as a client error before the orchestrator runs.
	ErrorKindAuthenticationFailure ErrorKind = "authentication_failure"

	// ErrorKindCircuitOpen means the dependency's circuit breaker is
	// currently rejecting calls.
	ErrorKindCircuitOpen ErrorKind = "circuit_open"

	// ErrorKindExternalService means a transport failure or contract
	// violation from an external dependency.
	ErrorKindExternalService ErrorKind = "external_service_error"

	// ErrorKindInternal is the catch-all for unexpected failures.
	ErrorKindInternal ErrorKind = "internal_error"
)

// PipelineError is the structured error type shared across the
// pipeline. Cause is preserved for errors.Is/As chains but the Message
// alone defines the caller-visible contract.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is (or wraps) a PipelineError of the given
// kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// NewMalformedTokenError creates a MalformedToken error.
func NewMalformedTokenError(message string, cause error) *PipelineError {
	return &PipelineError{Kind: ErrorKindMalformedToken, Message: message, Cause: cause}
}

// NewAuthenticationFailure creates an AuthenticationFailure with the
// fixed caller-visible message. The cause is kept for logging only and
// never leaks into the contract.
func NewAuthenticationFailure(cause error) *PipelineError {
	return &PipelineError{
		Kind:    ErrorKindAuthenticationFailure,
		Message: "invalid credentials",
		Cause:   cause,
	}
}

// NewCircuitOpenError creates a CircuitOpen error for the named
// dependency.
func NewCircuitOpenError(dependency string) *PipelineError {
	return &PipelineError{
		Kind:    ErrorKindCircuitOpen,
		Message: fmt.Sprintf("circuit breaker %q is open", dependency),
	}
}

// NewExternalServiceError creates an ExternalServiceError wrapping the
// underlying cause.
func NewExternalServiceError(message string, cause error) *PipelineError {
	return &PipelineError{Kind: ErrorKindExternalService, Message: message, Cause: cause}
}

// NewInternalError creates the catch-all InternalError.
func NewInternalError(message string, cause error) *PipelineError {
	return &PipelineError{Kind: ErrorKindInternal, Message: message, Cause: cause}
}
