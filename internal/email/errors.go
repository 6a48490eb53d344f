package email

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input: an empty recipient list, an
	// empty address or a missing required option.
	ErrValidation = errors.New("validation error")

	// ErrContentResolution indicates an attachment whose content could not
	// be resolved, either because no source is set or more than one is.
	ErrContentResolution = errors.New("content resolution error")

	// ErrTransport indicates a connect, authenticate or delivery failure
	// reported by a transport.
	ErrTransport = errors.New("transport error")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// TransportError wraps err as a transport failure for the named step.
// A nil err yields nil.
func TransportError(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, step, err)
}
