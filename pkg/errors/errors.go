package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so clones and wraps still match the sentinel.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Allocation engine errors.
var (
	ErrPoolExhausted    = New("POOL_EXHAUSTED", http.StatusConflict, "no free codes left for class")
	ErrNoPoolForClass   = New("NO_POOL_FOR_CLASS", http.StatusNotFound, "no codes were loaded for class")
	ErrNothingAvailable = New("NOTHING_AVAILABLE", http.StatusConflict, "no codes available in any eligible class")
	ErrReserveExhausted = New("RESERVE_EXHAUSTED", http.StatusConflict, "no reserve codes left for parallel")
	ErrOwnPoolAvailable = New("OWN_POOL_AVAILABLE", http.StatusConflict, "own class still has free codes")
	ErrAlreadyHoldsCode = New("ALREADY_HOLDS_CODE", http.StatusConflict, "student already holds a code in this session")
	ErrSessionNotFound  = New("SESSION_NOT_FOUND", http.StatusNotFound, "olympiad session not found")
	ErrStudentNotFound  = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found")
	ErrNoActiveSession  = New("NO_ACTIVE_SESSION", http.StatusNotFound, "no active olympiad session")
	ErrNotPreassigned   = New("NOT_PREASSIGNED", http.StatusNotFound, "no code was pre-assigned to the student")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// CodeOf returns the code carried by err, or ErrInternal's code for untyped errors.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Code
}

// Retryable reports whether err may succeed on a later attempt. Typed client-side errors never do.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return FromError(err).Status >= http.StatusInternalServerError
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
