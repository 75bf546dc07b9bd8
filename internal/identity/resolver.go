// Package identity assigns or recovers the human-readable box identifier and
// maintains the device identity state.
//
// Resolution runs once per device lifetime, whenever local identity state is
// absent: reinstall-surviving cache first, then server-side recovery by
// hardware id, then fresh generation. The hardware id is the durable identity
// anchor; the box id is a recoverable display label.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	apperrors "boxlic/internal/errors"
	"boxlic/internal/store"
	"boxlic/pkg/contracts/domain"
)

// Fingerprinter derives the stable hardware id of this device.
type Fingerprinter interface {
	Fingerprint() (string, error)
}

// RemoteClient is the subset of the license server client the resolver needs.
type RemoteClient interface {
	LookupByHardware(ctx context.Context, hardwareID string) (string, error)
	Register(ctx context.Context, boxID, hardwareID string) (string, error)
}

// Resolver assigns or recovers the box identity.
type Resolver struct {
	store            *store.Store
	client           RemoteClient
	fingerprinter    Fingerprinter
	cachePath        string
	licenseURL       string
	installerVersion string
	rebindCooldown   time.Duration
	now              func() time.Time
}

// Options configures a Resolver.
type Options struct {
	Store            *store.Store
	Client           RemoteClient
	Fingerprinter    Fingerprinter
	CachePath        string
	LicenseURL       string
	InstallerVersion string
	RebindCooldown   time.Duration
}

// NewResolver creates a Resolver.
func NewResolver(opts Options) *Resolver {
	cooldown := opts.RebindCooldown
	if cooldown <= 0 {
		cooldown = 720 * time.Hour
	}
	return &Resolver{
		store:            opts.Store,
		client:           opts.Client,
		fingerprinter:    opts.Fingerprinter,
		cachePath:        opts.CachePath,
		licenseURL:       opts.LicenseURL,
		installerVersion: opts.InstallerVersion,
		rebindCooldown:   cooldown,
		now:              time.Now,
	}
}

// Resolve returns the device identity, creating and persisting it when local
// state is absent. Idempotent: once the identity store is populated, repeated
// calls return the stored identity without touching the network.
func (r *Resolver) Resolve(ctx context.Context) (*domain.DeviceIdentity, error) {
	if identity, err := r.store.ReadIdentity(); err == nil {
		return identity, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	hardwareID, err := r.fingerprinter.Fingerprint()
	if err != nil {
		return nil, err
	}

	boxID, err := r.resolveBoxID(ctx, hardwareID)
	if err != nil {
		return nil, err
	}

	identity := &domain.DeviceIdentity{
		BoxID:            boxID,
		HardwareID:       hardwareID,
		LicenseURL:       r.licenseURL,
		FirstSeen:        r.now().UTC(),
		InstallerVersion: r.installerVersion,
	}

	if err := r.store.WriteIdentity(identity); err != nil {
		return nil, err
	}
	if err := r.writeCache(boxID, hardwareID); err != nil {
		slog.Warn("failed to write box id cache",
			slog.String("path", r.cachePath),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("box identity resolved",
		slog.String("box_id", boxID),
		slog.String("hardware_id", hardwareID),
	)
	return identity, nil
}

// resolveBoxID walks the resolution priority: local cache, remote lookup,
// fresh generation. Each step runs only when the previous yields nothing; an
// unreachable server is an error, not "nothing", to avoid minting a second
// label for hardware the server already knows.
func (r *Resolver) resolveBoxID(ctx context.Context, hardwareID string) (string, error) {
	if cached := r.readCache(hardwareID); cached != "" {
		slog.Info("box id recovered from local cache", slog.String("box_id", cached))
		return cached, nil
	}

	boxID, err := r.client.LookupByHardware(ctx, hardwareID)
	if err == nil {
		slog.Info("box id recovered from license server", slog.String("box_id", boxID))
		return boxID, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return "", fmt.Errorf("identity recovery failed: %w", err)
	}

	boxID = GenerateBoxID()
	slog.Info("generated new box id", slog.String("box_id", boxID))
	return boxID, nil
}

// Register registers the resolved identity with the license server and
// persists the returned API key. Idempotent server-side.
func (r *Resolver) Register(ctx context.Context) (*domain.DeviceIdentity, error) {
	identity, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	apiKey, err := r.client.Register(ctx, identity.BoxID, identity.HardwareID)
	if err != nil {
		return nil, err
	}

	if apiKey != "" && apiKey != identity.CloudAPIKey {
		identity.CloudAPIKey = apiKey
		if err := r.store.WriteIdentity(identity); err != nil {
			return nil, err
		}
	}
	return identity, nil
}

// RebindHardware re-fingerprints the device and rewrites hardware_id under
// the bracketed update. Refused when the previous rebind is younger than the
// cooldown window.
func (r *Resolver) RebindHardware(ctx context.Context) (*domain.DeviceIdentity, error) {
	identity, err := r.store.ReadIdentity()
	if err != nil {
		return nil, err
	}

	if !identity.ReboundAt.IsZero() {
		if elapsed := r.now().Sub(identity.ReboundAt); elapsed < r.rebindCooldown {
			return nil, fmt.Errorf("%w: last rebind %s ago, cooldown %s",
				apperrors.ErrRebindTooSoon, elapsed.Round(time.Hour), r.rebindCooldown)
		}
	}

	hardwareID, err := r.fingerprinter.Fingerprint()
	if err != nil {
		return nil, err
	}
	if hardwareID == identity.HardwareID {
		slog.Info("hardware id unchanged, rebind is a no-op",
			slog.String("box_id", identity.BoxID))
		return identity, nil
	}

	previous := identity.HardwareID
	identity.HardwareID = hardwareID
	identity.ReboundAt = r.now().UTC()
	if err := r.store.WriteIdentity(identity); err != nil {
		return nil, err
	}
	if err := r.writeCache(identity.BoxID, hardwareID); err != nil {
		slog.Warn("failed to update box id cache after rebind",
			slog.String("error", err.Error()))
	}

	slog.Info("hardware id rebound",
		slog.String("box_id", identity.BoxID),
		slog.String("previous_hardware_id", previous),
		slog.String("hardware_id", hardwareID),
	)
	return identity, nil
}

// readCache returns the cached box id when the cache is well-formed and
// matches this hardware. A malformed or mismatched cache counts as absent.
func (r *Resolver) readCache(hardwareID string) string {
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return ""
	}
	var cache domain.BoxIDCache
	if err := json.Unmarshal(data, &cache); err != nil {
		slog.Warn("ignoring malformed box id cache", slog.String("path", r.cachePath))
		return ""
	}
	if cache.BoxID == "" || cache.HardwareID != hardwareID {
		return ""
	}
	return cache.BoxID
}

func (r *Resolver) writeCache(boxID, hardwareID string) error {
	cache := domain.BoxIDCache{
		BoxID:      boxID,
		HardwareID: hardwareID,
		CachedAt:   r.now().UTC(),
	}
	data, err := json.MarshalIndent(&cache, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.cachePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.cachePath, data, 0o600)
}
