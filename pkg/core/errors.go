// Package core holds the error taxonomy shared by every orchestration
// component.
package core

import (
	"errors"
	"fmt"
)

// Error is the classified error returned across component boundaries.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Service string    `json:"service,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s (service: %s)", e.Type, e.Message, e.Service)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrValidation marks input rejected before any network call.
	ErrValidation ErrorType = "validation_error"
	// ErrDeviceUnavailable marks an inaccessible microphone or audio output.
	ErrDeviceUnavailable ErrorType = "device_unavailable"
	// ErrInvalidState marks an operation attempted from the wrong state,
	// such as starting a capture cycle while one is already active.
	ErrInvalidState ErrorType = "invalid_state_error"
	// ErrTransientNetwork marks a network failure retryable only through
	// an explicit user action.
	ErrTransientNetwork ErrorType = "transient_network_error"
	// ErrExternalService marks a transcription, synthesis, or
	// response-generation failure.
	ErrExternalService ErrorType = "external_service_error"
	// ErrPersistence marks a failed append or update against the store.
	ErrPersistence ErrorType = "persistence_error"
)

// NewValidationError creates a validation error for the named parameter.
func NewValidationError(message, param string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
		Param:   param,
	}
}

// NewDeviceUnavailableError creates a device error for the named resource.
func NewDeviceUnavailableError(resource string, underlying error) *Error {
	return &Error{
		Type:    ErrDeviceUnavailable,
		Message: fmt.Sprintf("%s unavailable", resource),
		Param:   resource,
		Err:     underlying,
	}
}

// NewInvalidStateError creates an invalid state error.
func NewInvalidStateError(message string) *Error {
	return &Error{
		Type:    ErrInvalidState,
		Message: message,
	}
}

// NewTransientNetworkError creates a transient network error.
func NewTransientNetworkError(service string, underlying error) *Error {
	return &Error{
		Type:    ErrTransientNetwork,
		Message: fmt.Sprintf("network failure talking to %s: %v", service, underlying),
		Service: service,
		Err:     underlying,
	}
}

// NewExternalServiceError creates an external service error.
func NewExternalServiceError(service string, underlying error) *Error {
	return &Error{
		Type:    ErrExternalService,
		Message: fmt.Sprintf("%s failed: %v", service, underlying),
		Service: service,
		Err:     underlying,
	}
}

// NewPersistenceError creates a persistence error for the named operation.
func NewPersistenceError(op string, underlying error) *Error {
	return &Error{
		Type:    ErrPersistence,
		Message: fmt.Sprintf("%s: %v", op, underlying),
		Param:   op,
		Err:     underlying,
	}
}

// IsRetryable returns true if retrying the same call may succeed.
// Audio and persistence calls are never auto-retried; retrying means the
// user acts again.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrTransientNetwork
}

// TypeOf returns the classified type of err, or "" if err carries none.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsType reports whether err is classified as t.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}
