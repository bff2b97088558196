package scheduler

import "errors"

// Handlers wrap their errors to tell the scheduler whether a failure is
// worth retrying. Unwrapped errors are treated as transient so that a
// flaky dependency never terminally fails a job by accident.

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent marks an error as not retryable. The job fails terminally
// regardless of remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error was marked Permanent anywhere
// in its chain.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
