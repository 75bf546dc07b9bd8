// Package validator owns the license state machine and the periodic
// dead-man's-switch revalidation.
//
// The state machine distinguishes "server unreachable" (tolerated for the
// bounded grace period) from "server explicitly rejected" (revoked
// immediately). Forged network failures therefore cannot extend a revoked
// license, while a legitimately offline box keeps operating inside the grace
// window. Every transition is persisted in one atomic write with recomputed
// checksums, so the next cycle detects offline file tampering and fails
// closed to expired.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "boxlic/internal/errors"
	"boxlic/internal/store"
	"boxlic/pkg/contracts/domain"
)

// ErrCycleInFlight is returned when a cycle is requested while a previous
// one is still awaiting a network response.
var ErrCycleInFlight = errors.New("validation cycle already in flight")

const defaultGracePeriodHours = 24

// Fingerprinter derives the stable hardware id of this device.
type Fingerprinter interface {
	Fingerprint() (string, error)
}

// RemoteClient is the subset of the license server client the validator needs.
type RemoteClient interface {
	Activate(ctx context.Context, boxID, hardwareID, licenseKey string) (*domain.Grant, error)
	Renew(ctx context.Context, boxID, jwtToken string) (*domain.Grant, error)
	ReportTampering(ctx context.Context, boxID, hardwareID, reason string)
}

// Validator drives the license state machine. It is the only writer of the
// license record.
type Validator struct {
	store         *store.Store
	client        RemoteClient
	fingerprinter Fingerprinter
	metrics       *Metrics
	now           func() time.Time

	// mu enforces at most one cycle in flight; a new cycle must not start
	// while a previous one is still awaiting a network response.
	mu sync.Mutex
}

// Options configures a Validator.
type Options struct {
	Store         *store.Store
	Client        RemoteClient
	Fingerprinter Fingerprinter
	Metrics       *Metrics
}

// New creates a Validator.
func New(opts Options) *Validator {
	return &Validator{
		store:         opts.Store,
		client:        opts.Client,
		fingerprinter: opts.Fingerprinter,
		metrics:       opts.Metrics,
		now:           time.Now,
	}
}

// Activate redeems a license key and transitions the license to active.
// Always possible, including from expired and revoked. On rejection the
// local record is left untouched: no partial activation.
func (v *Validator) Activate(ctx context.Context, licenseKey string) (*domain.LicenseRecord, error) {
	identity, err := v.store.ReadIdentity()
	if err != nil {
		return nil, fmt.Errorf("no device identity, run register first: %w", err)
	}

	grant, err := v.client.Activate(ctx, identity.BoxID, identity.HardwareID, licenseKey)
	if err != nil {
		return nil, err
	}

	record, err := v.store.ReadLicense()
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		record = &domain.LicenseRecord{GracePeriodHours: defaultGracePeriodHours}
	}

	v.applyGrant(record, grant)
	if err := v.persist(record); err != nil {
		return nil, err
	}

	slog.Info("license activated",
		slog.String("box_id", identity.BoxID),
		slog.String("status", string(record.Status)),
		slog.String("tier", record.Tier),
	)
	return record, nil
}

// RunCycle executes one dead-man's-switch cycle: tamper checks, heartbeat
// renewal, state transition, atomic persist. Returns ErrCycleInFlight when a
// previous cycle has not finished; the caller skips, never queues.
func (v *Validator) RunCycle(ctx context.Context) (*domain.LicenseRecord, error) {
	if !v.mu.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer v.mu.Unlock()

	identity, err := v.store.ReadIdentity()
	if err != nil {
		return nil, fmt.Errorf("missing device identity: %w", err)
	}

	record, err := v.store.ReadLicense()
	if err != nil {
		// Nothing to validate before first activation.
		return nil, err
	}

	if reason := v.tamperCheck(identity, record); reason != "" {
		return v.failClosed(ctx, identity, record, reason)
	}

	switch record.Status {
	case domain.LicenseStatusActive, domain.LicenseStatusGrace:
		return v.renew(ctx, identity, record)
	default:
		// inactive, expired, revoked: terminal until a new activation.
		v.metrics.observeCycle(string(record.Status))
		return record, nil
	}
}

// tamperCheck verifies the stored checksums and the hardware binding.
// Returns the tamper reason, or "" when the state is intact.
func (v *Validator) tamperCheck(identity *domain.DeviceIdentity, record *domain.LicenseRecord) string {
	currentHW, err := v.fingerprinter.Fingerprint()
	if err != nil {
		return fmt.Sprintf("hardware fingerprint unavailable: %v", err)
	}
	if currentHW != identity.HardwareID {
		return "hardware id mismatch: identity file copied to different hardware"
	}

	if record.LicenseChecksum != "" {
		sum, err := store.RecordChecksum(record)
		if err == nil && sum != record.LicenseChecksum {
			return "license.json checksum mismatch"
		}
	}

	if record.ConfigChecksum != "" {
		sum, err := v.store.IdentityChecksum()
		if err == nil && sum != record.ConfigChecksum {
			return "config.json checksum mismatch"
		}
	}

	return ""
}

// failClosed forces the license to expired, persists, and reports the
// tampering best-effort.
func (v *Validator) failClosed(ctx context.Context, identity *domain.DeviceIdentity, record *domain.LicenseRecord, reason string) (*domain.LicenseRecord, error) {
	slog.Error("tampering detected, failing closed",
		slog.String("box_id", identity.BoxID),
		slog.String("reason", reason),
	)

	record.Status = domain.LicenseStatusExpired
	record.LastValidated = v.now().UTC()
	if err := v.persist(record); err != nil {
		return nil, err
	}

	v.client.ReportTampering(ctx, identity.BoxID, identity.HardwareID, reason)
	v.metrics.observeTamper()
	v.metrics.observeCycle(string(record.Status))
	return record, apperrors.NewTamperError(reason)
}

// renew performs the heartbeat and applies the state machine transition.
func (v *Validator) renew(ctx context.Context, identity *domain.DeviceIdentity, record *domain.LicenseRecord) (*domain.LicenseRecord, error) {
	previous := record.Status
	grant, err := v.client.Renew(ctx, identity.BoxID, record.JWTToken)

	switch {
	case err == nil:
		v.applyGrant(record, grant)

	case errors.Is(err, apperrors.ErrUnauthorized):
		// Explicit rejection is trusted over a network failure: revoke
		// immediately, bypassing the grace window.
		record.Status = domain.LicenseStatusRevoked

	case errors.Is(err, apperrors.ErrServerUnavailable):
		grace := time.Duration(v.gracePeriodHours(record)) * time.Hour
		elapsed := v.now().Sub(record.LastValidated)
		if elapsed >= grace {
			// Boundary is inclusive of expiry: exactly at the grace limit
			// the license is expired, not still in grace.
			record.Status = domain.LicenseStatusExpired
		} else {
			record.Status = domain.LicenseStatusGrace
		}

	default:
		return nil, err
	}

	if err := v.persist(record); err != nil {
		return nil, err
	}

	if record.Status != previous {
		slog.Warn("license status changed",
			slog.String("box_id", identity.BoxID),
			slog.String("previous", string(previous)),
			slog.String("status", string(record.Status)),
		)
	} else {
		slog.Debug("license revalidated",
			slog.String("box_id", identity.BoxID),
			slog.String("status", string(record.Status)),
		)
	}

	v.metrics.observeCycle(string(record.Status))
	return record, nil
}

// applyGrant merges a successful server grant into the record and refreshes
// last_validated.
func (v *Validator) applyGrant(record *domain.LicenseRecord, grant *domain.Grant) {
	record.Status = domain.LicenseStatusActive
	if grant.Status != "" {
		record.Status = grant.Status
	}
	if grant.Tier != "" {
		record.Tier = grant.Tier
	}
	if grant.Token != "" {
		record.JWTToken = grant.Token
	}
	if grant.ExpiresIn > 0 {
		record.ExpiresAt = v.now().UTC().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}
	if grant.Features != nil {
		record.Features = grant.Features
	}
	if record.GracePeriodHours <= 0 {
		record.GracePeriodHours = defaultGracePeriodHours
	}
	record.LastValidated = v.now().UTC()
}

// persist writes the record atomically with recomputed tamper checksums.
func (v *Validator) persist(record *domain.LicenseRecord) error {
	if sum, err := v.store.IdentityChecksum(); err == nil {
		record.ConfigChecksum = sum
	}
	sum, err := store.RecordChecksum(record)
	if err != nil {
		return err
	}
	record.LicenseChecksum = sum
	return v.store.WriteLicense(record)
}

func (v *Validator) gracePeriodHours(record *domain.LicenseRecord) int {
	if record.GracePeriodHours > 0 {
		return record.GracePeriodHours
	}
	return defaultGracePeriodHours
}
