package model

import (
	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidInput marks missing or out-of-range request parameters.
	// Callers surface it immediately and never retry.
	ErrInvalidInput = eris.New("invalid input")

	// ErrNotFound marks a lookup for an experiment, version or job that does not exist.
	ErrNotFound = eris.New("not found")
)

// InvalidInputf wraps ErrInvalidInput with a formatted detail message.
func InvalidInputf(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidInput, format, args...)
}

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return eris.Wrapf(ErrNotFound, format, args...)
}
