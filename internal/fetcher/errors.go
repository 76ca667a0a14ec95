package fetcher

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument indicates caller misuse, e.g. requesting fewer
	// than one observation. Never retried.
	ErrInvalidArgument = errors.New("fetcher: invalid argument")
	// ErrNoDataAvailable indicates the source holds zero observations
	// after all retry attempts. Callers should prompt to record first.
	ErrNoDataAvailable = errors.New("fetcher: no observations recorded yet")
	// ErrNormalization indicates a fixed-point record could not be
	// represented as a finite float. A defensive guard, not expected for
	// realistic feed values.
	ErrNormalization = errors.New("fetcher: value not representable")

	// ErrInsufficientData maps the contract's InsufficientData revert:
	// the batch read asked for more records than exist.
	ErrInsufficientData = errors.New("fetcher: insufficient data in source")
	// ErrOutOfRange maps an indexed read past the end of the history.
	ErrOutOfRange = errors.New("fetcher: index out of range")
	// ErrCallFailed covers generic call failures against the source.
	ErrCallFailed = errors.New("fetcher: source call failed")
)

// ExhaustedError reports that transient failures persisted across every
// retry attempt. It carries the last underlying cause.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fetcher: retrieval exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// transient reports whether err is worth retrying. Config errors and
// context cancellation propagate immediately; only the "not written yet"
// and "call failed" families may resolve on a later attempt.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrCallFailed) ||
		errors.Is(err, ErrNoDataAvailable)
}
