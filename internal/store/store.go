// Package store persists the device identity and license record with
// tamper-evidence and atomic update semantics.
//
// Two kinds of state are stored. The identity file is write-protected outside
// an explicit bracketed update (unprotect, atomic write, reprotect). The
// license file is owner read-write and never write-protected, because the
// validator must rewrite it every cycle. All writes go through a temp file in
// the same directory followed by rename, so a concurrent reader never
// observes a partially written file.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	apperrors "boxlic/internal/errors"
	"boxlic/pkg/contracts/domain"
)

const (
	identityMode = 0o400
	licenseMode  = 0o600
)

// Store reads and writes the local state files.
type Store struct {
	identityPath string
	licensePath  string
	protector    WriteProtector
}

// New creates a Store over the given file paths using the default
// write protector for this platform.
func New(identityPath, licensePath string) *Store {
	return &Store{
		identityPath: identityPath,
		licensePath:  licensePath,
		protector:    NewProtector(),
	}
}

// NewWithProtector creates a Store with an explicit WriteProtector.
func NewWithProtector(identityPath, licensePath string, p WriteProtector) *Store {
	return &Store{
		identityPath: identityPath,
		licensePath:  licensePath,
		protector:    p,
	}
}

// IdentityPath returns the path of the identity file.
func (s *Store) IdentityPath() string { return s.identityPath }

// LicensePath returns the path of the license file.
func (s *Store) LicensePath() string { return s.licensePath }

// ReadIdentity loads the device identity. Returns ErrNotFound when the file
// does not exist.
func (s *Store) ReadIdentity() (*domain.DeviceIdentity, error) {
	var identity domain.DeviceIdentity
	if err := s.readJSON(s.identityPath, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// WriteIdentity persists the device identity under the bracketed update
// sequence: unprotect, atomic replace, reprotect. The unprotected window is
// kept as short as possible; reprotection is attempted even when the write
// fails, so a failed update leaves the previous value intact and protected.
// A successful update re-stamps the checksums stored in the license record,
// so the system's own identity writes never register as tampering.
func (s *Store) WriteIdentity(identity *domain.DeviceIdentity) error {
	data, err := json.MarshalIndent(identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if err := s.protector.Unprotect(s.identityPath); err != nil {
		return fmt.Errorf("failed to unprotect identity file: %w", err)
	}

	writeErr := atomicWrite(s.identityPath, data, identityMode)

	if err := s.protector.Protect(s.identityPath); err != nil {
		if writeErr == nil {
			return fmt.Errorf("identity written but reprotection failed: %w", err)
		}
		slog.Error("failed to reprotect identity file after failed write",
			slog.String("path", s.identityPath),
			slog.String("error", err.Error()),
		)
	}

	if writeErr != nil {
		return fmt.Errorf("failed to write identity file: %w", writeErr)
	}
	return s.syncLicenseChecksums()
}

// syncLicenseChecksums re-stamps the checksums stored in the license record
// after a legitimate identity write, so the next validation cycle does not
// mistake the update for tampering. Offline edits never pass through here and
// still trip the check.
func (s *Store) syncLicenseChecksums() error {
	record, err := s.ReadLicense()
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	sum, err := s.IdentityChecksum()
	if err != nil {
		return err
	}
	record.ConfigChecksum = sum

	recordSum, err := RecordChecksum(record)
	if err != nil {
		return err
	}
	record.LicenseChecksum = recordSum
	return s.WriteLicense(record)
}

// ReadLicense loads the license record. Returns ErrNotFound when the file
// does not exist.
func (s *Store) ReadLicense() (*domain.LicenseRecord, error) {
	var record domain.LicenseRecord
	if err := s.readJSON(s.licensePath, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// WriteLicense persists the license record atomically with owner-only
// read-write permissions.
func (s *Store) WriteLicense(record *domain.LicenseRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license record: %w", err)
	}
	if err := atomicWrite(s.licensePath, data, licenseMode); err != nil {
		return fmt.Errorf("failed to write license file: %w", err)
	}
	return nil
}

// IdentityChecksum returns the sha256 hex digest of the identity file bytes,
// used as config_checksum for tamper detection.
func (s *Store) IdentityChecksum() (string, error) {
	return fileChecksum(s.identityPath)
}

func (s *Store) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// atomicWrite writes data to a temp file in the target directory and renames
// it over the destination. Rename is atomic on POSIX filesystems within a
// single directory.
func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// RecordChecksum computes the sha256 hex digest of a license record with its
// own checksum field zeroed, so the digest can be stored inside the record.
func RecordChecksum(record *domain.LicenseRecord) (string, error) {
	clean := *record
	clean.LicenseChecksum = ""
	data, err := json.Marshal(&clean)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
