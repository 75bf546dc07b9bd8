//go:build linux

package store

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// NewProtector returns the default write protector for Linux: the filesystem
// immutable flag, which blocks modification even by the file owner. Setting
// the flag requires CAP_LINUX_IMMUTABLE and an ext-style filesystem; when
// either is missing the protector degrades to permission bits.
func NewProtector() WriteProtector {
	return &ImmutableProtector{fallback: ChmodProtector{}}
}

// fsImmutableFl is FS_IMMUTABLE_FL from linux/fs.h. x/sys/unix exports the
// FS_IOC_GETFLAGS/FS_IOC_SETFLAGS ioctls but not the flag bit itself.
const fsImmutableFl = 0x00000010

// ImmutableProtector toggles the FS_IMMUTABLE_FL inode flag via ioctl.
type ImmutableProtector struct {
	fallback ChmodProtector
}

// Protect sets the immutable flag in addition to owner-read-only permissions.
func (p *ImmutableProtector) Protect(path string) error {
	if err := p.fallback.Protect(path); err != nil {
		return err
	}
	if err := setImmutable(path, true); err != nil {
		slog.Debug("immutable flag unavailable, relying on permissions",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Unprotect clears the immutable flag and restores owner-writable
// permissions.
func (p *ImmutableProtector) Unprotect(path string) error {
	if err := setImmutable(path, false); err != nil {
		slog.Debug("failed to clear immutable flag",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
	return p.fallback.Unprotect(path)
}

func setImmutable(path string, immutable bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	flags, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return fmt.Errorf("FS_IOC_GETFLAGS: %w", err)
	}

	if immutable {
		flags |= fsImmutableFl
	} else {
		flags &^= fsImmutableFl
	}

	if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.FS_IOC_SETFLAGS, flags); err != nil {
		return fmt.Errorf("FS_IOC_SETFLAGS: %w", err)
	}
	return nil
}
