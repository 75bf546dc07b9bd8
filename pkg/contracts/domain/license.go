// Package domain contains the core domain models for the box licensing
// client. These types serve as the single source of truth for all layers.
package domain

import (
	"time"
)

// LicenseStatus represents the status of the box license
type LicenseStatus string

const (
	LicenseStatusInactive LicenseStatus = "inactive"
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusGrace    LicenseStatus = "grace"
	LicenseStatusExpired  LicenseStatus = "expired"
	LicenseStatusRevoked  LicenseStatus = "revoked"
)

// Licensed reports whether the status permits licensed features.
// Grace counts as licensed: a legitimately offline box keeps operating for a
// bounded window.
func (s LicenseStatus) Licensed() bool {
	return s == LicenseStatusActive || s == LicenseStatusGrace
}

// DeviceIdentity binds a box to its hardware. Created once per device;
// box_id and hardware_id never change together. Only a rate-limited
// rebind-hardware operation may rewrite hardware_id.
type DeviceIdentity struct {
	BoxID            string    `json:"box_id" validate:"required"`
	HardwareID       string    `json:"hardware_id" validate:"required,len=64,hexadecimal"`
	LicenseURL       string    `json:"license_url,omitempty"`
	FirstSeen        time.Time `json:"first_seen"`
	InstallerVersion string    `json:"installer_version,omitempty"`
	CloudEnabled     bool      `json:"cloud_enabled,omitempty"`
	CloudAPIKey      string    `json:"cloud_api_key,omitempty"`
	CloudURL         string    `json:"cloud_url,omitempty"`
	ReboundAt        time.Time `json:"rebound_at,omitempty"`
}

// LicenseRecord is the mutable license state, owned exclusively by the
// validation subsystem. No other component may set Status directly.
type LicenseRecord struct {
	Status           LicenseStatus `json:"status"`
	Tier             string        `json:"tier,omitempty"`
	JWTToken         string        `json:"jwt_token,omitempty"`
	ExpiresAt        time.Time     `json:"expires_at,omitempty"`
	Features         []string      `json:"features,omitempty"`
	LastValidated    time.Time     `json:"last_validated"`
	GracePeriodHours int           `json:"grace_period_hours"`
	ConfigChecksum   string        `json:"config_checksum,omitempty"`
	LicenseChecksum  string        `json:"license_checksum,omitempty"`
}

// HasFeature reports whether the record grants a feature flag. Feature flags
// are only honored while the license status permits licensed operation.
func (r *LicenseRecord) HasFeature(name string) bool {
	if !r.Status.Licensed() {
		return false
	}
	for _, f := range r.Features {
		if f == name {
			return true
		}
	}
	return false
}

// Grant is the server's answer to an activation or renewal call.
type Grant struct {
	Status    LicenseStatus `json:"status"`
	Tier      string        `json:"tier"`
	Token     string        `json:"token"`
	ExpiresIn int           `json:"expires_in"` // seconds
	Features  []string      `json:"features"`
}

// BoxIDCache is the reinstall-surviving identity cache stored outside the
// installation tree.
type BoxIDCache struct {
	BoxID      string    `json:"box_id"`
	HardwareID string    `json:"hardware_id"`
	CachedAt   time.Time `json:"cached_at"`
}
