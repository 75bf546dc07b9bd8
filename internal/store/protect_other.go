//go:build !linux

package store

// NewProtector returns the default write protector for platforms without an
// immutable-flag mechanism.
func NewProtector() WriteProtector {
	return ChmodProtector{}
}
