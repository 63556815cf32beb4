package httpx

import (
	"fmt"
	"net/http"
)

// Error is the single structured failure handlers return. StatusCode and
// Message are sent to the client; Cause is only logged.
type Error struct {
	StatusCode int
	Message    string
	Errors     []string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(status int, message string, details ...string) *Error {
	if message == "" {
		message = "Something went wrong"
	}
	return &Error{StatusCode: status, Message: message, Errors: details}
}

func BadRequest(message string, details ...string) *Error {
	return NewError(http.StatusBadRequest, message, details...)
}

func Unauthorized(message string) *Error {
	return NewError(http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return NewError(http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return NewError(http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return NewError(http.StatusConflict, message)
}

func TooManyRequests(message string) *Error {
	return NewError(http.StatusTooManyRequests, message)
}

// Internal wraps an unexpected failure. The cause never reaches the client.
func Internal(message string, cause error) *Error {
	err := NewError(http.StatusInternalServerError, message)
	err.Cause = cause
	return err
}
