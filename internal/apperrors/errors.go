// Package apperrors provides a typed application error used across the
// command surface, REST handlers, and controller loop so that error kinds
// map consistently onto HTTP status codes and log fields.
package apperrors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError. The set matches the error kinds in the
// controller's command contract.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeRejected     ErrorType = "rejected"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeUpstream     ErrorType = "upstream"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeInternal     ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeConflict:     http.StatusConflict,
	ErrorTypeRejected:     http.StatusBadRequest,
	ErrorTypeUnauthorized: http.StatusUnauthorized,
	ErrorTypeUpstream:     http.StatusBadGateway,
	ErrorTypeUnavailable:  http.StatusServiceUnavailable,
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeInternal:     http.StatusInternalServerError,
}

// AppError is a typed, wrappable error carrying an HTTP status code and
// optional extra detail, kept separate from the safe message returned to
// API clients.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails attaches additional, non-safe-for-client detail and returns
// the same error for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodeFor(t)}
}

func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError that preserves cause for errors.Unwrap.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Constructors for the common cases used by the command surface.

func NewNotFoundError(what string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", what))
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewRejectedError(message string) *AppError {
	return New(ErrorTypeRejected, message)
}

func NewUnauthorizedError(message string) *AppError {
	return New(ErrorTypeUnauthorized, message)
}

func NewUnavailableError(message string) *AppError {
	return New(ErrorTypeUnavailable, message)
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if as(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType extracts the ErrorType, defaulting to Internal for plain errors.
func GetType(err error) ErrorType {
	var appErr *AppError
	if as(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode maps err to the HTTP status code the REST surface should
// return, per the controller's error-propagation policy.
func GetStatusCode(err error) int {
	var appErr *AppError
	if as(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

var genericMessages = map[ErrorType]string{
	ErrorTypeNotFound:     "the requested resource was not found",
	ErrorTypeUnauthorized: "authentication failed",
	ErrorTypeUnavailable:  "the controller is still starting up",
	ErrorTypeUpstream:     "an upstream error occurred",
	ErrorTypeInternal:     "an unexpected error occurred",
}

// SafeErrorMessage returns a message safe to return to an API client,
// passing through validation/rejection messages verbatim (they describe the
// caller's own input) and genericizing everything else so internal details
// (cluster errors, stack traces) never leak.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !as(err, &appErr) {
		return "an unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeRejected, ErrorTypeConflict:
		return appErr.Message
	default:
		if msg, ok := genericMessages[appErr.Type]; ok {
			return msg
		}
		return "an unexpected error occurred"
	}
}

// LogFields renders err into a structured field map suitable for zap.Any
// call sites, keeping the cause and detail out of the client response but
// in the operator's logs.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	var appErr *AppError
	if !as(err, &appErr) {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins multiple non-nil errors into one, for reporting batch
// failures (e.g. undeploy_all across several builds) without losing any of
// them.
func Chain(errs ...error) error {
	var msgs []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		msgs = append(msgs, err.Error())
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%s", strings.Join(msgs, " -> "))
}

// as is a minimal stand-in for errors.As: it follows the single-error
// Unwrap chain looking for an *AppError. Errors that wrap several causes
// (Unwrap() []error) are not searched.
func as(err error, target **AppError) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			*target = appErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
