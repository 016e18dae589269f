package coordinator

import (
	"errors"
	"fmt"
)

// ErrTransactionNotFound is returned when a transaction id is unknown to
// the durable store.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrCoordinatorStopped is returned when an operation is issued against
// a coordinator whose background loops have been stopped.
var ErrCoordinatorStopped = errors.New("coordinator is not running")

// ValidationError reports a malformed saga definition. It is raised
// synchronously by StartSaga before any persistence occurs, so an
// invalid saga never partially starts.
type ValidationError struct {
	StepID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("invalid saga definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid saga definition: step %q: %s", e.StepID, e.Reason)
}

func newValidationError(stepID, format string, args ...any) *ValidationError {
	return &ValidationError{StepID: stepID, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is a definition validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// persistErr wraps a durable-store failure so it propagates with the
// transaction it aborted. Persistence errors are never masked.
func persistErr(transactionID string, err error) error {
	return fmt.Errorf("persist transaction %s: %w", transactionID, err)
}
