package anomaly

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input, rejected before any I/O.
	ErrValidation = errors.New("validation failed")
	// ErrDependency marks an unreachable or misbehaving ledger, store, or bus.
	ErrDependency = errors.New("dependency failure")
	// ErrNotFound is returned when an anomaly ID does not exist.
	ErrNotFound = errors.New("anomaly not found")
	// ErrConflict is returned for a status transition the anomaly cannot take.
	ErrConflict = errors.New("anomaly state conflict")
)

// Validationf wraps ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Dependency wraps err as ErrDependency for operation op. Errors already
// classified by this package pass through with op prefixed.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDependency) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}
