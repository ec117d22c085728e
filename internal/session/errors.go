package session

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownChat is returned when an operation names a chat not in the store.
	ErrUnknownChat = errors.New("unknown chat")
	// ErrNoActiveChat is returned by operations that need a focused chat.
	ErrNoActiveChat = errors.New("no active chat")
)

// ValidationError rejects input before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// check validates v and converts the first failure to a *ValidationError.
func check(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	return &ValidationError{Field: fe.Field(), Reason: reason(fe)}
}

func reason(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required", "required_if":
		return "is required"
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "numeric":
		return "must contain digits only"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return "is invalid"
	}
}
