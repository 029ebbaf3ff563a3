// Package service implements the versioned file lifecycle of applytrack:
// resume versions, migration of external job folders, attachment mode
// conversion and the undoable operations log.
package service

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/raphaelgruber/applytrack/internal/lock"
)

// Sentinel errors. Use errors.Is() to check for these in calling code.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInsufficientSpace   = errors.New("insufficient disk space")
	ErrVersionMissing      = errors.New("version file missing on disk")
	ErrJobNotFound         = errors.New("job not found")
	ErrNotSupported        = errors.New("operation cannot be undone")
	ErrAlreadyUndone       = errors.New("operation already undone")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrSessionMismatch     = errors.New("operation belongs to another session")

	// ErrLockTimeout is returned when version assignment could not be serialized.
	ErrLockTimeout = lock.ErrTimeout
)

// classifyIOError maps permission and disk-space failures onto the sentinels
// and wraps anything else with the failing step.
func classifyIOError(step, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s %s: %v", ErrPermissionDenied, step, path, err)
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %s %s: %v", ErrInsufficientSpace, step, path, err)
	default:
		return fmt.Errorf("%s %s: %w", step, path, err)
	}
}
