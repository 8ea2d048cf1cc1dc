package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass tells callers how an engine error should be surfaced.
type ErrorClass string

const (
	// ErrorClassNotFound means the referenced record does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInvalidTransition means the record is not in a status that
	// allows the requested action.
	ErrorClassInvalidTransition ErrorClass = "invalid_transition"

	// ErrorClassValidation means the input or the record's configuration was
	// rejected before any external side effect.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassExternalTool means a provisioning tool ran and reported failure.
	ErrorClassExternalTool ErrorClass = "external_tool"

	// ErrorClassInternal covers everything else.
	ErrorClassInternal ErrorClass = "internal"
)

// Error codes carried in API error bodies.
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeMissingField      = "MISSING_FIELD"
	ErrCodeProviderFailed    = "PROVIDER_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// EngineError represents a classified error with context.
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`

	// Resource is "<kind>:<id>" when the error concerns one order.
	Resource string `json:"resource,omitempty"`

	// Operation is the action being performed, e.g. "execute".
	Operation string `json:"operation,omitempty"`

	Err     error                  `json:"-"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an EngineError of the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// ErrorClass returns the class as a plain string for metrics.
func (e *EngineError) ErrorClass() string { return string(e.Class) }

// ErrorCode returns the code for metrics.
func (e *EngineError) ErrorCode() string { return e.Code }

// HTTPStatus maps the error class onto a response status.
func (e *EngineError) HTTPStatus() int {
	switch e.Class {
	case ErrorClassNotFound:
		return http.StatusNotFound
	case ErrorClassInvalidTransition, ErrorClassValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassNotFound,
		Code:    ErrCodeNotFound,
		Message: message,
		Err:     err,
	}
}

// NewInvalidTransitionError creates a new invalid-transition error.
func NewInvalidTransitionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInvalidTransition,
		Code:    ErrCodeInvalidTransition,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Code:    ErrCodeValidation,
		Message: message,
		Err:     err,
	}
}

// NewExternalToolError creates a new error for a failed provisioning tool.
func NewExternalToolError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassExternalTool,
		Code:    ErrCodeProviderFailed,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode overrides the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassNotFound
}

// IsInvalidTransition returns true if the error is classified as an invalid transition.
func IsInvalidTransition(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInvalidTransition
}

// IsValidation returns true if the error is classified as a validation failure.
func IsValidation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsExternalTool returns true if the error is classified as an external tool failure.
func IsExternalTool(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassExternalTool
}

// HTTPStatus returns the response status for any error. Unclassified errors
// are internal.
func HTTPStatus(err error) int {
	var e *EngineError
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// AsEngineError returns err as an EngineError, wrapping unclassified errors
// as internal.
func AsEngineError(err error) *EngineError {
	var e *EngineError
	if errors.As(err, &e) {
		return e
	}
	return NewInternalError("internal error", err)
}
