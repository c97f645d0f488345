package check

import (
	"errors"
	"fmt"
)

// ErrConfigValidation is wrapped by every configuration validation failure.
var ErrConfigValidation = errors.New("config validation failed")

// ValidationError describes a configuration problem with a named subject
// (a check, alias or handler).
type ValidationError struct {
	Subject string
	Msg     string
}

func (e *ValidationError) Error() string {
	if e.Subject == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Subject, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrConfigValidation }

// Invalidf builds a ValidationError.
func Invalidf(subject, format string, args ...any) error {
	return &ValidationError{Subject: subject, Msg: fmt.Sprintf(format, args...)}
}
