// Package db provides error types for manifest storage.
package db

import (
	"errors"
	"fmt"

	"github.com/timshannon/badgerhold/v4"
)

// Sentinel errors for manifest operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested manifest entry does not exist.
	ErrNotFound = errors.New("manifest entry not found")

	// ErrInvalidDSN indicates the manifest DSN could not be parsed or names
	// an unknown backend scheme.
	ErrInvalidDSN = errors.New("invalid manifest dsn")

	// ErrInvalidConfig indicates the service configuration failed validation.
	ErrInvalidConfig = errors.New("invalid service configuration")
)

// wrapBackendError maps backend-specific errors onto the package sentinels.
func wrapBackendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
