package device

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

var (
	// ErrDeviceNotFound is returned when no device matches the lookup
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDuplicateHash is returned when an insert or update collides on the unique hash
	ErrDuplicateHash = errors.New("device hash already exists")
	// ErrLockTimeout is returned when the per-user lock cannot be taken in time
	ErrLockTimeout = errors.New("timed out waiting for user lock")
)

// Device is a registered device owned by exactly one user
type Device struct {
	ID          uuid.UUID               `json:"id"`
	UserID      uuid.UUID               `json:"user_id"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Hash        string                  `json:"hash"`
	DeviceLabel string                  `json:"device_label"`
	IsActive    bool                    `json:"is_active"`
	CreatedAt   time.Time               `json:"created_at"`
	LastUsedAt  time.Time               `json:"last_used_at"`
}

// Signature is the coarse identity used to collapse duplicate rows of one machine
func (d Device) Signature() string {
	return d.Fingerprint.Signature()
}

// DeviceRepository defines the interface for device storage operations.
// It never enforces the device cap; callers do that inside WithUserLock.
type DeviceRepository interface {
	// Lookups
	FindDeviceByHash(ctx context.Context, hash string) (Device, error)
	GetDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error)
	FindActiveDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error)
	FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error)
	CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error)

	// Mutations (delete is not supported)
	CreateDevice(ctx context.Context, device Device) (Device, error)
	UpdateDeviceFingerprint(ctx context.Context, deviceID uuid.UUID, fp fingerprint.Fingerprint, hash, label string, lastUsedAt time.Time) (Device, error)
	TouchDevice(ctx context.Context, deviceID uuid.UUID, lastUsedAt time.Time) (Device, error)
	UpdateDeviceLabel(ctx context.Context, userID, deviceID uuid.UUID, label string) (Device, error)
	SetDeviceActive(ctx context.Context, userID, deviceID uuid.UUID, active bool) (Device, error)

	// User block state
	IsUserBlocked(ctx context.Context, userID uuid.UUID) (bool, error)
	SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool) error

	// WithUserLock runs fn as one unit serialized against other calls for the same user.
	// The repository passed to fn must be used for every read and write inside the unit.
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(repo DeviceRepository) error) error

	// Transaction support
	WithTx(tx interface{}) DeviceRepository
}

// DedupBySignature orders devices by most recent use and keeps the newest row per signature
func DedupBySignature(devices []Device) []Device {
	sorted := append([]Device(nil), devices...)
	SortByLastUsed(sorted)

	seen := make(map[string]bool, len(sorted))
	result := make([]Device, 0, len(sorted))
	for _, d := range sorted {
		sig := d.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		result = append(result, d)
	}
	return result
}

// SortByLastUsed sorts devices by last use, newest first
func SortByLastUsed(devices []Device) {
	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].LastUsedAt.Equal(devices[j].LastUsedAt) {
			return devices[i].CreatedAt.After(devices[j].CreatedAt)
		}
		return devices[i].LastUsedAt.After(devices[j].LastUsedAt)
	})
}
