package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the backend answers 401 or no session exists.
	// The session is cleared before it is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoSession marks an unauthorized error raised locally, without a network call.
	ErrNoSession = errors.New("no active session")

	// ErrInvalidCredentials is returned by Probe/Login when the backend rejects a candidate credential.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// RequestFailedError describes any non-2xx, non-401 response.
type RequestFailedError struct {
	StatusCode int
	// Message is the response body text, or a generic message if the body was empty.
	Message string
}

func (e *RequestFailedError) Error() string {
	return e.Message
}

func newRequestFailed(status int, body string) *RequestFailedError {
	if body == "" {
		body = fmt.Sprintf("Request failed (%d)", status)
	}
	return &RequestFailedError{StatusCode: status, Message: body}
}

// IsUnauthorized reports whether err is (or wraps) ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Message returns the human-readable text recorded in UI error slots.
// Gateway errors keep their own text; anything else falls back to fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnauthorized) {
		return "Unauthorized"
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return "Invalid credentials"
	}
	var rf *RequestFailedError
	if errors.As(err, &rf) {
		return rf.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
