package apierr

import (
	"errors"

	"github.com/maraichr/eomat/internal/store"
	"github.com/maraichr/eomat/pkg/fault"
)

// IsNotFound reports whether err is or wraps store.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// From maps a domain error to its API error. notFound is used for
// store.ErrNotFound since the missing entity depends on the caller.
// Anything unrecognized becomes an internal error.
func From(err error, notFound *Error) *Error {
	var ae *Error
	switch {
	case errors.As(err, &ae):
		return ae
	case IsNotFound(err) && notFound != nil:
		return notFound
	case errors.Is(err, fault.ErrFileInUse):
		return FileInUse(err)
	case errors.Is(err, fault.ErrFileNotFound):
		return FileNotFound(err)
	case errors.Is(err, fault.ErrUnknownGroup):
		return UnknownGroup(err)
	case errors.Is(err, fault.ErrInvalidTransition):
		return InvalidTransition(err)
	case errors.Is(err, fault.ErrMisconfiguration):
		return Misconfiguration(err)
	case errors.Is(err, fault.ErrInvalidFilename):
		return InvalidParameter("filename", "must be a bare file name")
	}
	return InternalError(err)
}
