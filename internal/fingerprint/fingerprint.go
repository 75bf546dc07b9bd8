// Package fingerprint derives a stable device identifier from immutable
// hardware traits. The identifier anchors the box to its license binding and
// must survive reboots and reinstalls.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"sync"

	apperrors "boxlic/internal/errors"
)

const (
	machineIDPath = "/etc/machine-id"
	dmiUUIDPath   = "/sys/class/dmi/id/product_uuid"
)

// Fingerprinter computes the hardware id of this device.
//
// Sources are read in a fixed priority order: systemd machine-id, DMI product
// UUID, then the sorted MAC addresses of physical interfaces. Every available
// source contributes to the digest; volatile attributes (PIDs, boot ids,
// timestamps) are never included, or the identity would drift across boots.
type Fingerprinter struct {
	machineIDPath string
	dmiUUIDPath   string
	interfaces    func() ([]net.Interface, error)

	mu     sync.Mutex
	cached string
}

// New creates a Fingerprinter reading the standard platform sources.
func New() *Fingerprinter {
	return &Fingerprinter{
		machineIDPath: machineIDPath,
		dmiUUIDPath:   dmiUUIDPath,
		interfaces:    net.Interfaces,
	}
}

// Fingerprint returns the device hardware id as a lowercase hex SHA-256
// digest. Repeated calls on an unchanged device return an identical value.
// Returns ErrHardwareUnavailable when no stable source yields data; this is
// fatal for the caller.
func (f *Fingerprinter) Fingerprint() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != "" {
		return f.cached, nil
	}

	sources := f.collect()
	if len(sources) == 0 {
		return "", apperrors.ErrHardwareUnavailable
	}

	sum := sha256.Sum256([]byte(strings.Join(sources, "|")))
	f.cached = hex.EncodeToString(sum[:])

	slog.Debug("hardware fingerprint generated",
		slog.Int("sources", len(sources)),
		slog.String("hardware_id", f.cached),
	)
	return f.cached, nil
}

// Components returns the raw attribute values feeding the digest, keyed by
// source name. Intended for operator diagnostics.
func (f *Fingerprinter) Components() map[string]string {
	components := make(map[string]string)
	if v := f.readTrimmed(f.machineIDPath); v != "" {
		components["machine_id"] = v
	}
	if v := f.readTrimmed(f.dmiUUIDPath); v != "" {
		components["product_uuid"] = v
	}
	if macs := f.macAddresses(); len(macs) > 0 {
		components["mac_addresses"] = strings.Join(macs, ",")
	}
	return components
}

// collect gathers the stable sources in their fixed order.
func (f *Fingerprinter) collect() []string {
	var sources []string
	if v := f.readTrimmed(f.machineIDPath); v != "" {
		sources = append(sources, "machine-id:"+v)
	}
	if v := f.readTrimmed(f.dmiUUIDPath); v != "" {
		sources = append(sources, "product-uuid:"+v)
	}
	if macs := f.macAddresses(); len(macs) > 0 {
		sources = append(sources, "macs:"+strings.Join(macs, ","))
	}
	return sources
}

func (f *Fingerprinter) readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(string(data)))
}

// macAddresses returns the MAC addresses of non-loopback interfaces, sorted
// so interface enumeration order cannot change the fingerprint.
func (f *Fingerprinter) macAddresses() []string {
	ifaces, err := f.interfaces()
	if err != nil {
		slog.Warn("failed to enumerate network interfaces", slog.String("error", err.Error()))
		return nil
	}

	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}
