// Package fault defines the error taxonomy shared by the ledgers, the
// materialization engine and the dispatch boundary.
package fault

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownGroup      = errors.New("unknown group")
	ErrFileNotFound      = errors.New("file not found")
	ErrFileInUse         = errors.New("file in use")
	ErrMisconfiguration  = errors.New("misconfiguration")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidFilename   = errors.New("invalid filename")
)

// UnknownGroup wraps ErrUnknownGroup with the offending name.
func UnknownGroup(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownGroup, name)
}

// Misconfigured wraps ErrMisconfiguration with a formatted reason.
func Misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMisconfiguration, fmt.Sprintf(format, args...))
}

// InUse wraps ErrFileInUse with the blocking entity.
func InUse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFileInUse, fmt.Sprintf(format, args...))
}

// InvalidFilename wraps ErrInvalidFilename with the rejected name.
func InvalidFilename(name string) error {
	return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
}

// InvalidTransition wraps ErrInvalidTransition with the rejected edge.
func InvalidTransition(entity string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, entity, from, to)
}

// RetriableError marks a transient remote condition. The dispatch layer
// retries the job within its retry budget.
type RetriableError struct{ Err error }

func (e *RetriableError) Error() string { return "retriable: " + e.Err.Error() }
func (e *RetriableError) Unwrap() error { return e.Err }

// FatalError marks a condition retrying cannot fix.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// DeferredError means the remote side accepted the request but the file is
// not ready yet (e.g. an on-demand order still processing). It is retried
// like a RetriableError but parks the source in DEFERRED meanwhile.
type DeferredError struct{ Err error }

func (e *DeferredError) Error() string { return "deferred: " + e.Err.Error() }
func (e *DeferredError) Unwrap() error { return e.Err }

func Retriable(err error) error { return &RetriableError{Err: err} }
func Fatal(err error) error     { return &FatalError{Err: err} }
func Deferred(err error) error  { return &DeferredError{Err: err} }

func IsRetriable(err error) bool {
	var r *RetriableError
	return errors.As(err, &r)
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

func IsDeferred(err error) bool {
	var d *DeferredError
	return errors.As(err, &d)
}
