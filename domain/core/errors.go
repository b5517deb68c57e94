package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound        = errors.New("resource not found")
	ErrRunNotFound     = fmt.Errorf("%w: analysis run", ErrNotFound)
	ErrDatasetNotFound = fmt.Errorf("%w: dataset", ErrNotFound)
	ErrStratumNotFound = fmt.Errorf("%w: stratum", ErrNotFound)

	// Per-stratum evaluation errors. Fatal to the stratum being evaluated,
	// never to the whole run: the orchestrator records them and continues
	// with the remaining strata.
	ErrInsufficientData   = errors.New("insufficient data: stratum has no observations")
	ErrDegenerateGrouping = errors.New("degenerate grouping: group does not take exactly two values")
	ErrInvalidDirection   = errors.New("no test direction declared for outcome level")

	// Configuration and dataset validation errors
	ErrInvalidConfig    = errors.New("invalid analysis configuration")
	ErrInvalidDataset   = errors.New("invalid dataset")
	ErrUnknownLevel     = errors.New("value not in declared level set")
	ErrUnknownCovariate = errors.New("covariate not declared in dataset")

	// Determinism errors
	ErrSeedMismatch = errors.New("seed mismatch")
	ErrHashMismatch = errors.New("hash mismatch")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}

func NewDegenerateGroupingError(stratum string, groups []string) error {
	return fmt.Errorf("%w: stratum %q has groups %v", ErrDegenerateGrouping, stratum, groups)
}

func NewInvalidDirectionError(level string) error {
	return fmt.Errorf("%w: %q", ErrInvalidDirection, level)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStratumError reports whether err is one of the per-stratum evaluation
// errors that should skip the stratum instead of aborting the run.
func IsStratumError(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrDegenerateGrouping) ||
		errors.Is(err, ErrInvalidDirection)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidDataset) ||
		errors.Is(err, ErrUnknownLevel) ||
		errors.Is(err, ErrUnknownCovariate)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrSeedMismatch) ||
		errors.Is(err, ErrHashMismatch)
}
