package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound indicates the referenced job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotAcquirable indicates the job was not in a waiting state when a
	// worker tried to claim it (already taken, cancelled or finished).
	ErrJobNotAcquirable = errors.New("job not in an acquirable state")
	// ErrJobNotRetryable indicates RetryFailed was called on a job that is not failed.
	ErrJobNotRetryable = errors.New("job is not in a failed state")
	// ErrJobNotCancelable indicates Cancel was called on a job that already
	// started or finished; in-flight jobs are never interrupted.
	ErrJobNotCancelable = errors.New("job already started or finished; cannot cancel")
	// ErrUnknownJobType indicates no handler is registered for the job's type.
	ErrUnknownJobType = errors.New("no handler registered for job type")
	// ErrInvalidQueue indicates an unrecognized queue name.
	ErrInvalidQueue = errors.New("invalid queue name")
)

// PermanentError marks a handler failure as non-retryable: the job goes
// straight to failed regardless of remaining attempts. Use for provider 4xx
// responses and other errors a retry cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the worker will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
