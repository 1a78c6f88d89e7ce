package transfer

import (
	"context"
	"errors"

	"github.com/hotline-go/xfercore/socket"
)

// classifyErr maps any error raised by the socket layer (or passed
// through from a context cancellation) onto this package's *Error
// taxonomy (§7), so every transfer client reports a terminal event drawn
// from the same small closed set regardless of where the failure
// originated.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrKindCancelled, err)
	case errors.Is(err, socket.ErrClosed):
		return newError(ErrKindClosed, err)
	case errors.Is(err, socket.ErrFramingExceeded):
		return newError(ErrKindFramingExceeded, err)
	case errors.Is(err, socket.ErrInvalidPort):
		return newError(ErrKindInvalidPort, err)
	default:
		var insufficient *socket.InsufficientDataError
		if errors.As(err, &insufficient) {
			return newError(ErrKindInsufficientData, err)
		}
		return newError(ErrKindIO, err)
	}
}

// classify extracts the ErrorKind from an error that has already been (or
// is about to be) run through classifyErr.
func classify(err error) ErrorKind {
	e := classifyErr(err)
	var te *Error
	if errors.As(e, &te) {
		return te.Kind
	}
	return ErrKindUnknown
}
