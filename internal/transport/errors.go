package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by RequestErrors carrying a 401.
var ErrUnauthorized = errors.New("unauthorized")

// RequestError is a rejected request/response operation.
type RequestError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.StatusCode)
}

// Is reports ErrUnauthorized for 401 responses.
func (e *RequestError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// Temporary reports whether the backend may accept a retry of the same call.
func (e *RequestError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// UserMessage returns the text to surface as the session error.
func UserMessage(err error) string {
	var re *RequestError
	if errors.As(err, &re) {
		if re.Message != "" {
			return re.Message
		}
		return http.StatusText(re.StatusCode)
	}
	return err.Error()
}
