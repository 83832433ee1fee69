// Package errdefs defines the error taxonomy of rsync-system-backup.
//
// Errors produced by the packages of this module wrap one of the sentinel
// errors below, so callers can match them with errors.Is. Anything that does
// not wrap a sentinel (external command failures, I/O errors, programming
// errors) is considered unknown and is reported with full detail.
package errdefs

import "errors"

var (
	// ErrInvalidDestination is returned when a destination expression
	// doesn't match any of the supported syntaxes.
	ErrInvalidDestination = errors.New("invalid destination expression")

	// ErrMissingDestination is returned when a destination has neither a
	// host name nor a directory.
	ErrMissingDestination = errors.New("destination is required")

	// ErrMissingBackupDisk is returned when the configured encrypted
	// filesystem isn't available (the device file doesn't exist).
	ErrMissingBackupDisk = errors.New("backup disk is missing")

	// ErrFailedToUnlock is returned when the encrypted filesystem is still
	// locked after the unlock command reported success.
	ErrFailedToUnlock = errors.New("failed to unlock encrypted filesystem")

	// ErrFailedToMount is returned when the mount point is still inactive
	// after the mount command reported success.
	ErrFailedToMount = errors.New("failed to mount filesystem")

	// ErrDestinationContextUnavailable is returned when commands can't be
	// executed on the destination because it is an rsync daemon module.
	ErrDestinationContextUnavailable = errors.New("destination execution context unavailable")

	// ErrParentDirectoryUnavailable is returned when the destination
	// directory has no parent directory (it is empty or the root).
	ErrParentDirectoryUnavailable = errors.New("parent directory unavailable")

	// ErrUnsupportedPlatform is returned when running on something other
	// than Linux without forcing execution.
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// ErrInvalidIONiceClass is returned for unknown I/O scheduling classes.
	ErrInvalidIONiceClass = errors.New("invalid I/O scheduling class")
)

var known = []error{
	ErrInvalidDestination,
	ErrMissingDestination,
	ErrMissingBackupDisk,
	ErrFailedToUnlock,
	ErrFailedToMount,
	ErrDestinationContextUnavailable,
	ErrParentDirectoryUnavailable,
	ErrUnsupportedPlatform,
	ErrInvalidIONiceClass,
}

// IsKnown reports whether err belongs to the error taxonomy of this module.
// Known errors are expected conditions that only need a one-line message.
func IsKnown(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}
