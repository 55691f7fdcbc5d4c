package fetcherr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means a prerequisite (binary, credential, session) is missing.
	ErrUnavailable = errors.New("source unavailable")
	ErrTransient   = errors.New("fetch failed")
	ErrParse       = errors.New("invalid payload")
	ErrAuth        = errors.New("authentication rejected")

	ErrTokenExpired   = fmt.Errorf("%w: oauth token expired", ErrAuth)
	ErrSessionExpired = fmt.Errorf("%w: web session expired", ErrAuth)
)

type Class string

const (
	ClassNone        Class = ""
	ClassUnavailable Class = "unavailable"
	ClassTransient   Class = "transient"
	ClassParse       Class = "parse"
	ClassAuth        Class = "auth"
)

// Classify maps an error onto the failure taxonomy. Errors that carry no
// sentinel count as transient.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrUnavailable):
		return ClassUnavailable
	case errors.Is(err, ErrAuth):
		return ClassAuth
	case errors.Is(err, ErrParse):
		return ClassParse
	default:
		return ClassTransient
	}
}

func Parse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParse, fmt.Sprintf(format, args...))
}

func Transient(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}
