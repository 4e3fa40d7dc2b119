package receipt

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a receipt id does not exist
	ErrNotFound = errors.New("receipt not found")
	// ErrMalformedInput is wrapped by every ValidationError
	ErrMalformedInput = errors.New("malformed input")
	// ErrAcquisitionFailed means the frame source could not deliver a frame
	ErrAcquisitionFailed = errors.New("frame acquisition failed")
	// ErrAcquisitionCancelled means the frame source was told not to deliver a frame
	ErrAcquisitionCancelled = errors.New("frame acquisition cancelled")
)

// ValidationError describes caller-supplied input that was rejected
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformedInput
}
