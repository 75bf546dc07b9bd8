package identity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxlic/internal/errors"
	"boxlic/internal/store"
	"boxlic/pkg/contracts/domain"
)

const testHardwareID = "a3f8b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1"

type fakeFingerprinter struct {
	id  string
	err error
}

func (f *fakeFingerprinter) Fingerprint() (string, error) { return f.id, f.err }

type fakeRemote struct {
	lookupBoxID   string
	lookupErr     error
	lookupCalls   int
	registerKey   string
	registerErr   error
	registerCalls int
}

func (f *fakeRemote) LookupByHardware(_ context.Context, _ string) (string, error) {
	f.lookupCalls++
	return f.lookupBoxID, f.lookupErr
}

func (f *fakeRemote) Register(_ context.Context, _, _ string) (string, error) {
	f.registerCalls++
	return f.registerKey, f.registerErr
}

type testEnv struct {
	resolver *Resolver
	store    *store.Store
	remote   *fakeRemote
	cache    string
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st := store.NewWithProtector(
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "license.json"),
		store.ChmodProtector{},
	)
	remote := &fakeRemote{lookupErr: apperrors.ErrNotFound}
	cache := filepath.Join(dir, "cache", "box_id.json")
	env := &testEnv{
		store:  st,
		remote: remote,
		cache:  cache,
		now:    time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
	env.resolver = NewResolver(Options{
		Store:            st,
		Client:           remote,
		Fingerprinter:    &fakeFingerprinter{id: testHardwareID},
		CachePath:        cache,
		LicenseURL:       "https://license.gl0w.bot/api",
		InstallerVersion: "1.0.0",
		RebindCooldown:   720 * time.Hour,
	})
	env.resolver.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) seedCache(t *testing.T, boxID, hardwareID string) {
	t.Helper()
	data, err := json.Marshal(domain.BoxIDCache{
		BoxID:      boxID,
		HardwareID: hardwareID,
		CachedAt:   e.now,
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(e.cache), 0o755))
	require.NoError(t, os.WriteFile(e.cache, data, 0o600))
}

func TestResolveGeneratesNewBoxID(t *testing.T) {
	env := newTestEnv(t)

	identity, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	assert.True(t, ValidBoxID(identity.BoxID), "generated id %q has wrong format", identity.BoxID)
	assert.Equal(t, testHardwareID, identity.HardwareID)
	assert.Equal(t, env.now, identity.FirstSeen)
	assert.Equal(t, 1, env.remote.lookupCalls)

	// Persisted to the protected store
	stored, err := env.store.ReadIdentity()
	require.NoError(t, err)
	assert.Equal(t, identity.BoxID, stored.BoxID)

	// And to the reinstall-surviving cache
	data, err := os.ReadFile(env.cache)
	require.NoError(t, err)
	var cache domain.BoxIDCache
	require.NoError(t, json.Unmarshal(data, &cache))
	assert.Equal(t, identity.BoxID, cache.BoxID)
	assert.Equal(t, testHardwareID, cache.HardwareID)
}

func TestResolveCacheTakesPrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.seedCache(t, "gfbox-falcon-042", testHardwareID)

	identity, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "gfbox-falcon-042", identity.BoxID)
	assert.Zero(t, env.remote.lookupCalls, "cache hit must not call the remote lookup")
}

func TestResolveCacheForDifferentHardwareIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.seedCache(t, "gfbox-falcon-042", "0000000000000000000000000000000000000000000000000000000000000000")
	env.remote.lookupErr = nil
	env.remote.lookupBoxID = "gfbox-orion-117"

	identity, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "gfbox-orion-117", identity.BoxID)
	assert.Equal(t, 1, env.remote.lookupCalls)
}

func TestResolveMalformedCacheIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(env.cache), 0o755))
	require.NoError(t, os.WriteFile(env.cache, []byte("{not json"), 0o600))

	identity, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, ValidBoxID(identity.BoxID))
}

func TestResolveRecoversFromServer(t *testing.T) {
	env := newTestEnv(t)
	env.remote.lookupErr = nil
	env.remote.lookupBoxID = "gfbox-orion-117"

	identity, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gfbox-orion-117", identity.BoxID)
}

func TestResolveIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)
	second, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.BoxID, second.BoxID)
	assert.Equal(t, 1, env.remote.lookupCalls, "second resolve must use the stored identity")
}

func TestResolveServerUnavailableFails(t *testing.T) {
	env := newTestEnv(t)
	env.remote.lookupErr = apperrors.ErrServerUnavailable

	_, err := env.resolver.Resolve(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrServerUnavailable)

	// Nothing persisted on failure
	_, err = env.store.ReadIdentity()
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveHardwareUnavailableFails(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.fingerprinter = &fakeFingerprinter{err: apperrors.ErrHardwareUnavailable}

	_, err := env.resolver.Resolve(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrHardwareUnavailable)
}

func TestRegisterStoresAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.remote.registerKey = "api-key-123"

	identity, err := env.resolver.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "api-key-123", identity.CloudAPIKey)

	stored, err := env.store.ReadIdentity()
	require.NoError(t, err)
	assert.Equal(t, "api-key-123", stored.CloudAPIKey)
}

func TestRegisterIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.remote.registerKey = "api-key-123"

	_, err := env.resolver.Register(context.Background())
	require.NoError(t, err)
	_, err = env.resolver.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, env.remote.registerCalls)
}

func TestRebindHardwareCooldown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	// First rebind with changed hardware succeeds
	env.resolver.fingerprinter = &fakeFingerprinter{
		id: "b4f8b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a2",
	}
	identity, err := env.resolver.RebindHardware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, env.now, identity.ReboundAt)

	// Second rebind inside the 30-day window is refused
	env.now = env.now.Add(29 * 24 * time.Hour)
	env.resolver.fingerprinter = &fakeFingerprinter{
		id: "c5f8b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a3",
	}
	_, err = env.resolver.RebindHardware(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRebindTooSoon)

	// After the window it succeeds again
	env.now = env.now.Add(2 * 24 * time.Hour)
	rebound, err := env.resolver.RebindHardware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c5f8b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a3", rebound.HardwareID)
}

func TestRebindHardwareNoOpWhenUnchanged(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	identity, err := env.resolver.RebindHardware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.HardwareID, identity.HardwareID)
	assert.True(t, identity.ReboundAt.IsZero(), "no-op rebind must not consume the rate limit window")
}

func TestRebindHardwareBoxIDUnchanged(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.resolver.Resolve(context.Background())
	require.NoError(t, err)

	env.resolver.fingerprinter = &fakeFingerprinter{
		id: "b4f8b2c1d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a2",
	}
	rebound, err := env.resolver.RebindHardware(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.BoxID, rebound.BoxID, "rebind rewrites hardware_id only")
}

func TestGenerateBoxIDFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := GenerateBoxID()
		assert.True(t, ValidBoxID(id), "generated id %q has wrong format", id)
	}
}

func TestValidBoxID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"gfbox-falcon-042", true},
		{"gfbox-jade-000", true},
		{"gfbox-falcon-42", false},
		{"gfbox-falcon-1234", false},
		{"box-falcon-042", false},
		{"gfbox-Falcon-042", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidBoxID(tt.id), tt.id)
	}
}
