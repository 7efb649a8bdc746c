package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPayload = errors.New("unknown payload kind")

	// ErrAmbiguousOrSkippedLocalTime is returned when a wall-clock time cannot be
	// mapped to exactly one instant in its zone.
	ErrAmbiguousOrSkippedLocalTime = errors.New("ambiguous or skipped local time")
	ErrAmbiguousLocalTime          = fmt.Errorf("%w: local time occurs twice", ErrAmbiguousOrSkippedLocalTime)
	ErrSkippedLocalTime            = fmt.Errorf("%w: local time does not exist", ErrAmbiguousOrSkippedLocalTime)
)

// PersistenceError reports that the event store could not be reached or rejected a write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "persistence: " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError; nil stays nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// MalformedContentError marks a single unusable item inside an otherwise good batch.
type MalformedContentError struct {
	Source string
	Reason string
}

func (e *MalformedContentError) Error() string {
	return fmt.Sprintf("malformed item from %s: %s", e.Source, e.Reason)
}
