package store

import (
	"fmt"
	"os"
)

// WriteProtector applies and removes write protection on a file. The core
// logic only depends on this interface; the mechanism is per-platform.
//
// Protect must be safe to call on a file that is already protected, and
// Unprotect on a file that does not exist yet (first write).
type WriteProtector interface {
	Protect(path string) error
	Unprotect(path string) error
}

// ChmodProtector implements WriteProtector with file permissions alone.
// It guards against accidental modification, not a root attacker.
type ChmodProtector struct{}

// Protect makes the file owner-read-only.
func (ChmodProtector) Protect(path string) error {
	if err := os.Chmod(path, 0o400); err != nil {
		return fmt.Errorf("failed to protect %s: %w", path, err)
	}
	return nil
}

// Unprotect makes the file owner-writable.
func (ChmodProtector) Unprotect(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to unprotect %s: %w", path, err)
	}
	return nil
}

// NopProtector implements WriteProtector without doing anything. Used in
// tests that exercise write sequencing without permission changes.
type NopProtector struct{}

func (NopProtector) Protect(string) error   { return nil }
func (NopProtector) Unprotect(string) error { return nil }
