package device

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

// NoOpDeviceRepository is a DeviceRepository that stores nothing.
// Registrations always look like new devices and never count against the cap.
type NoOpDeviceRepository struct{}

// NewNoOpDeviceRepository creates a repository for deployments with device tracking disabled
func NewNoOpDeviceRepository() *NoOpDeviceRepository {
	return &NoOpDeviceRepository{}
}

func (r *NoOpDeviceRepository) FindDeviceByHash(ctx context.Context, hash string) (Device, error) {
	return Device{}, ErrDeviceNotFound
}

func (r *NoOpDeviceRepository) GetDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error) {
	return Device{}, ErrDeviceNotFound
}

func (r *NoOpDeviceRepository) FindActiveDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	return []Device{}, nil
}

func (r *NoOpDeviceRepository) FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	return []Device{}, nil
}

func (r *NoOpDeviceRepository) CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}

func (r *NoOpDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.LastUsedAt.IsZero() {
		device.LastUsedAt = now
	}
	return device, nil
}

func (r *NoOpDeviceRepository) UpdateDeviceFingerprint(ctx context.Context, deviceID uuid.UUID, fp fingerprint.Fingerprint, hash, label string, lastUsedAt time.Time) (Device, error) {
	return Device{}, ErrDeviceNotFound
}

func (r *NoOpDeviceRepository) TouchDevice(ctx context.Context, deviceID uuid.UUID, lastUsedAt time.Time) (Device, error) {
	return Device{}, ErrDeviceNotFound
}

func (r *NoOpDeviceRepository) UpdateDeviceLabel(ctx context.Context, userID, deviceID uuid.UUID, label string) (Device, error) {
	return Device{}, ErrDeviceNotFound
}

func (r *NoOpDeviceRepository) SetDeviceActive(ctx context.Context, userID, deviceID uuid.UUID, active bool) (Device, error) {
	return Device{}, ErrDeviceNotFound
}

func (r *NoOpDeviceRepository) IsUserBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}

func (r *NoOpDeviceRepository) SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool) error {
	return nil
}

func (r *NoOpDeviceRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(repo DeviceRepository) error) error {
	return fn(r)
}

func (r *NoOpDeviceRepository) WithTx(tx interface{}) DeviceRepository {
	return r
}
