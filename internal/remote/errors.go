package remote

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/sony/gobreaker"
)

var (
	// ErrNotFound is returned when the store answers 404 for a contact.
	ErrNotFound = errors.New("contact not found")
	// ErrConflict is returned when the store rejects a write because the
	// email is already taken (409).
	ErrConflict = errors.New("a contact with this email already exists")
)

// TransientError wraps a failure that says nothing about the request itself:
// the store could not be reached or timed out, a proxy in front of it
// answered 502/503/504, it rate limited the client, or the circuit breaker
// is open. Callers treat it as "offline" and queue the mutation.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError is a definitive rejection by the store, decoded from its
// error envelope.
type StatusError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("contacts store returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("contacts store returned %d: %s", e.Status, e.Message)
}

// Unwrap maps 404 and 409 onto the package sentinels so callers can use
// errors.Is without inspecting status codes.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}

// isTransientStatus reports whether an HTTP status indicates a temporary
// condition on the store side. A plain 500 is the store failing the request
// itself and is reported as a StatusError.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// sanitizeBody truncates a response body to 256 bytes and replaces invalid
// UTF-8 and control characters so it is safe to embed in errors and logs.
func sanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	clean := make([]byte, 0, len(body))
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		switch {
		case r == utf8.RuneError && size <= 1:
			clean = append(clean, '?')
		case r < 0x20 && r != '\t':
			clean = append(clean, '?')
		default:
			clean = append(clean, body[:size]...)
		}
		body = body[size:]
	}
	return string(clean)
}
