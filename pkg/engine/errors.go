package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass classifies an error for retry and run-abort decisions.
type ErrorClass string

const (
	// ErrorClassValidation marks a bad configuration document. Raised before
	// any network call.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound marks a 404 from the Harness API.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassConflict marks a 409. The HTTP client turns it into an
	// AlreadyExists response, so it only surfaces from non-create calls.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassClient marks any other 4xx. Never retried.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassTransient marks 5xx responses, timeouts and connection errors.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassFatalSetup marks a failure that aborts the whole run, such as
	// project creation failing.
	ErrorClassFatalSetup ErrorClass = "fatal_setup"

	// ErrorClassCancelled marks an interrupted run.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Error is a classified error with request and resource context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message. For API errors it is the
	// server-provided message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource identifier involved, if any.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed, e.g. "POST /ng/api/projects".
	Operation string `json:"operation,omitempty"`

	// StatusCode is the HTTP status of the final attempt, 0 when no response
	// was received.
	StatusCode int `json:"status_code,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *Error {
	return &Error{Class: class, Code: code, Message: message, Err: err}
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassValidation, ErrCodeValidation, message, err)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *Error {
	return newError(ErrorClassNotFound, ErrCodeNotFound, message, err)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string, err error) *Error {
	return newError(ErrorClassConflict, ErrCodeAlreadyExists, message, err)
}

// NewClientError creates a non-retryable client error.
func NewClientError(message string, err error) *Error {
	return newError(ErrorClassClient, ErrCodeClient, message, err)
}

// NewTransientError creates a transient error.
func NewTransientError(message string, err error) *Error {
	return newError(ErrorClassTransient, ErrCodeTransient, message, err)
}

// NewFatalSetupError creates an error that aborts the run.
func NewFatalSetupError(message string, err error) *Error {
	return newError(ErrorClassFatalSetup, ErrCodeFatalSetup, message, err)
}

// NewCancelledError creates a cancellation error. The cause defaults to
// context.Canceled so errors.Is(err, context.Canceled) holds.
func NewCancelledError(message string, err error) *Error {
	if err == nil {
		err = context.Canceled
	}
	return newError(ErrorClassCancelled, ErrCodeCancelled, message, err)
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(identifier string) *Error {
	e.Resource = identifier
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode overrides the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithStatus records the HTTP status code.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// ClassOf returns the class of the first *Error in err's chain, or "" when
// there is none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return ClassOf(err) == ErrorClassValidation
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return ClassOf(err) == ErrorClassConflict
}

// IsClient returns true if the error is a non-retryable client error.
func IsClient(err error) bool {
	return ClassOf(err) == ErrorClassClient
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

// IsFatalSetup returns true if the error aborts the run.
func IsFatalSetup(err error) bool {
	return ClassOf(err) == ErrorClassFatalSetup
}

// IsCancelled returns true for cancellation errors and for any chain that
// contains context.Canceled.
func IsCancelled(err error) bool {
	return ClassOf(err) == ErrorClassCancelled || errors.Is(err, context.Canceled)
}

// IsRetryable returns true if the error can be retried. Only transient
// errors are.
func IsRetryable(err error) bool {
	return IsTransient(err) && !errors.Is(err, context.Canceled)
}

// Common error codes.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeClient            = "CLIENT_ERROR"
	ErrCodeTransient         = "TRANSIENT_ERROR"
	ErrCodeRetriesExhausted  = "RETRIES_EXHAUSTED"
	ErrCodeFatalSetup        = "FATAL_SETUP"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodePolicyViolation   = "POLICY_VIOLATION"
	ErrCodeProjectFailed     = "PROJECT_FAILED"
	ErrCodeInvalidResponse   = "INVALID_RESPONSE"
	ErrCodeTemplateMalformed = "TEMPLATE_MALFORMED"
)
