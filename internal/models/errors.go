package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExternal   ErrorType = "transient_external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal_invariant"
)

type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so sentinel errors compare equal after WithMetadata copies.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Type == other.Type
}

// WithCause returns a copy of the error wrapping cause.
func (e *AppError) WithCause(cause error) *AppError {
	clone := e.clone()
	clone.Cause = cause
	return clone
}

// WithMetadata returns a copy of the error carrying an extra metadata pair.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	clone := e.clone()
	clone.Metadata[key] = value
	return clone
}

func (e *AppError) clone() *AppError {
	metadata := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		metadata[k] = v
	}
	return &AppError{
		Type:      e.Type,
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Retryable,
		Metadata:  metadata,
		Cause:     e.Cause,
	}
}

func newError(errorType ErrorType, code, message string, retryable bool) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Metadata:  make(map[string]interface{}),
	}
}

func NewValidationError(code, message string) *AppError {
	return newError(ErrorTypeValidation, code, message, false)
}

func NewExternalError(code, message string) *AppError {
	return newError(ErrorTypeExternal, code, message, true)
}

func NewTimeoutError(code, message string) *AppError {
	return newError(ErrorTypeExternal, code, message, true)
}

func NewNotFoundError(code, message string) *AppError {
	return newError(ErrorTypeNotFound, code, message, false)
}

func NewInternalError(code, message string) *AppError {
	return newError(ErrorTypeInternal, code, message, false)
}

func WrapExternalError(service string, err error) *AppError {
	code := strings.ToUpper(service) + "_ERROR"
	return NewExternalError(code, fmt.Sprintf("%s request failed", service)).WithCause(err)
}

var (
	ErrSessionNotFound = NewNotFoundError("SESSION_NOT_FOUND", "Session not found")
	ErrAgentNotFound   = NewNotFoundError("AGENT_NOT_FOUND", "Agent not registered for session")
	ErrCacheMiss       = NewNotFoundError("CACHE_MISS", "Cache entry not found")
)

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

func IsNotFound(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Type == ErrorTypeNotFound
}

func IsValidation(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Type == ErrorTypeValidation
}

func HTTPStatus(err error) int {
	appErr, ok := AsAppError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch appErr.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
