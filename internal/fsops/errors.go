package fsops

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrMissingPath indicates a required file or directory does not exist.
	ErrMissingPath = errors.New("missing path")

	// ErrPermissionDenied indicates the process lacks rights for a filesystem operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAmbiguousMatch indicates a lookup expected exactly one entry and found zero or many.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrSymlinkUnsupported indicates the backing filesystem cannot create or read symlinks.
	ErrSymlinkUnsupported = errors.New("symlinks not supported by filesystem")
)

// Classify wraps err with the matching sentinel so callers can branch with
// errors.Is on both the category and the underlying OS error.
// Returns nil when err is nil.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrMissingPath), errors.Is(err, ErrPermissionDenied):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w: %w", op, path, ErrMissingPath, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w: %w", op, path, ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}
