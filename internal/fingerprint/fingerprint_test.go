package fingerprint

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxlic/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fakeInterfaces(macs ...string) func() ([]net.Interface, error) {
	return func() ([]net.Interface, error) {
		var ifaces []net.Interface
		for i, mac := range macs {
			hw, _ := net.ParseMAC(mac)
			ifaces = append(ifaces, net.Interface{
				Index:        i + 1,
				Name:         "eth" + string(rune('0'+i)),
				HardwareAddr: hw,
				Flags:        net.FlagUp,
			})
		}
		return ifaces, nil
	}
}

func newTestFingerprinter(t *testing.T) (*Fingerprinter, string) {
	dir := t.TempDir()
	f := &Fingerprinter{
		machineIDPath: filepath.Join(dir, "machine-id"),
		dmiUUIDPath:   filepath.Join(dir, "product_uuid"),
		interfaces:    func() ([]net.Interface, error) { return nil, nil },
	}
	return f, dir
}

func TestFingerprintDeterministic(t *testing.T) {
	f, dir := newTestFingerprinter(t)
	writeFile(t, dir, "machine-id", "abcdef0123456789abcdef0123456789\n")

	first, err := f.Fingerprint()
	require.NoError(t, err)
	second, err := f.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Equal(t, strings.ToLower(first), first)
}

func TestFingerprintStableAcrossInstances(t *testing.T) {
	f1, dir := newTestFingerprinter(t)
	writeFile(t, dir, "machine-id", "abcdef0123456789abcdef0123456789")

	f2 := &Fingerprinter{
		machineIDPath: f1.machineIDPath,
		dmiUUIDPath:   f1.dmiUUIDPath,
		interfaces:    f1.interfaces,
	}

	first, err := f1.Fingerprint()
	require.NoError(t, err)
	second, err := f2.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFingerprintChangesWithMachineID(t *testing.T) {
	f1, dir1 := newTestFingerprinter(t)
	writeFile(t, dir1, "machine-id", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	f2, dir2 := newTestFingerprinter(t)
	writeFile(t, dir2, "machine-id", "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	first, err := f1.Fingerprint()
	require.NoError(t, err)
	second, err := f2.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFingerprintMACFallback(t *testing.T) {
	f, _ := newTestFingerprinter(t)
	f.interfaces = fakeInterfaces("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")

	id, err := f.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, id, 64)
}

func TestFingerprintMACOrderIndependent(t *testing.T) {
	f1, _ := newTestFingerprinter(t)
	f1.interfaces = fakeInterfaces("aa:bb:cc:dd:ee:02", "aa:bb:cc:dd:ee:01")

	f2, _ := newTestFingerprinter(t)
	f2.interfaces = fakeInterfaces("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02")

	first, err := f1.Fingerprint()
	require.NoError(t, err)
	second, err := f2.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFingerprintHardwareUnavailable(t *testing.T) {
	f, _ := newTestFingerprinter(t)

	_, err := f.Fingerprint()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrHardwareUnavailable)
}

func TestComponents(t *testing.T) {
	f, dir := newTestFingerprinter(t)
	writeFile(t, dir, "machine-id", "abcdef0123456789abcdef0123456789")
	writeFile(t, dir, "product_uuid", "01234567-89AB-CDEF-0123-456789ABCDEF")
	f.interfaces = fakeInterfaces("aa:bb:cc:dd:ee:01")

	components := f.Components()
	assert.Equal(t, "abcdef0123456789abcdef0123456789", components["machine_id"])
	// normalized to lowercase
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", components["product_uuid"])
	assert.Equal(t, "aa:bb:cc:dd:ee:01", components["mac_addresses"])
}
