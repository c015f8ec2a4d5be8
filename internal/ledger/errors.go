package ledger

import (
	"errors"
	"fmt"
)

// ErrMeterActive is returned when an operation would remove a meter that
// the currently active event was started from.
var ErrMeterActive = errors.New("cannot delete the currently active meter")

// ErrUnknownMeter is returned by lookups for a meter ID not in the registry.
var ErrUnknownMeter = errors.New("meter not found")

// ValidationError reports a rejected argument or import blob.
// These are surfaced synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
