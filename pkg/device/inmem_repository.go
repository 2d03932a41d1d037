package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-device/pkg/errors"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

// InMemDeviceRepository implements DeviceRepository using in-memory maps.
// WithUserLock serializes per user and undoes fn's mutations when fn fails.
type InMemDeviceRepository struct {
	mu      sync.Mutex
	devices map[uuid.UUID]Device
	hashes  map[string]uuid.UUID
	blocked map[uuid.UUID]bool

	locksMu     sync.Mutex
	userLocks   map[uuid.UUID]chan struct{}
	lockTimeout time.Duration

	// persist is called with mu held after every mutation; a failure rolls the mutation back
	persist func() error
}

// NewInMemDeviceRepository creates a new in-memory device repository
func NewInMemDeviceRepository() *InMemDeviceRepository {
	return NewInMemDeviceRepositoryWithLockTimeout(DefaultLockTimeout)
}

// NewInMemDeviceRepositoryWithLockTimeout creates a repository whose WithUserLock gives up after lockTimeout
func NewInMemDeviceRepositoryWithLockTimeout(lockTimeout time.Duration) *InMemDeviceRepository {
	return &InMemDeviceRepository{
		devices:     make(map[uuid.UUID]Device),
		hashes:      make(map[string]uuid.UUID),
		blocked:     make(map[uuid.UUID]bool),
		userLocks:   make(map[uuid.UUID]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// FindDeviceByHash returns the device with the given hash across all users
func (r *InMemDeviceRepository) FindDeviceByHash(ctx context.Context, hash string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.hashes[hash]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return r.devices[id], nil
}

// GetDevice returns a device owned by the user
func (r *InMemDeviceRepository) GetDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[deviceID]
	if !ok || d.UserID != userID {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

// FindActiveDevicesByUser returns active devices, newest first, one per signature
func (r *InMemDeviceRepository) FindActiveDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active []Device
	for _, d := range r.devices {
		if d.UserID == userID && d.IsActive {
			active = append(active, d)
		}
	}
	return DedupBySignature(active), nil
}

// FindDevicesByUser returns all of a user's devices, newest first
func (r *InMemDeviceRepository) FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := []Device{}
	for _, d := range r.devices {
		if d.UserID == userID {
			devices = append(devices, d)
		}
	}
	SortByLastUsed(devices)
	return devices, nil
}

// CountActiveDevices counts every active row for the user
func (r *InMemDeviceRepository) CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, d := range r.devices {
		if d.UserID == userID && d.IsActive {
			count++
		}
	}
	return count, nil
}

// CreateDevice stores a new device
func (r *InMemDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	return r.createDevice(device, nil)
}

func (r *InMemDeviceRepository) createDevice(device Device, j *undoJournal) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hashes[device.Hash]; exists {
		return Device{}, ErrDuplicateHash
	}
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	if device.LastUsedAt.IsZero() {
		device.LastUsedAt = device.CreatedAt
	}

	r.devices[device.ID] = device
	r.hashes[device.Hash] = device.ID
	err := r.commit(j, func() {
		delete(r.devices, device.ID)
		delete(r.hashes, device.Hash)
	})
	if err != nil {
		return Device{}, err
	}

	slog.Debug("Device created", "deviceID", device.ID, "userID", device.UserID)
	return device, nil
}

// UpdateDeviceFingerprint replaces the stored fingerprint, hash and label of a device
func (r *InMemDeviceRepository) UpdateDeviceFingerprint(ctx context.Context, deviceID uuid.UUID, fp fingerprint.Fingerprint, hash, label string, lastUsedAt time.Time) (Device, error) {
	return r.updateDeviceFingerprint(deviceID, fp, hash, label, lastUsedAt, nil)
}

func (r *InMemDeviceRepository) updateDeviceFingerprint(deviceID uuid.UUID, fp fingerprint.Fingerprint, hash, label string, lastUsedAt time.Time, j *undoJournal) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.devices[deviceID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	if owner, exists := r.hashes[hash]; exists && owner != deviceID {
		return Device{}, ErrDuplicateHash
	}

	updated := prev
	updated.Fingerprint = fp
	updated.Hash = hash
	updated.DeviceLabel = label
	updated.LastUsedAt = lastUsedAt

	delete(r.hashes, prev.Hash)
	r.hashes[hash] = deviceID
	r.devices[deviceID] = updated
	err := r.commit(j, func() {
		delete(r.hashes, hash)
		r.hashes[prev.Hash] = deviceID
		r.devices[deviceID] = prev
	})
	if err != nil {
		return Device{}, err
	}
	return updated, nil
}

// TouchDevice updates last use time
func (r *InMemDeviceRepository) TouchDevice(ctx context.Context, deviceID uuid.UUID, lastUsedAt time.Time) (Device, error) {
	return r.touchDevice(deviceID, lastUsedAt, nil)
}

func (r *InMemDeviceRepository) touchDevice(deviceID uuid.UUID, lastUsedAt time.Time, j *undoJournal) (Device, error) {
	return r.update(deviceID, j, func(d *Device) bool {
		d.LastUsedAt = lastUsedAt
		return true
	})
}

// UpdateDeviceLabel renames a device owned by the user
func (r *InMemDeviceRepository) UpdateDeviceLabel(ctx context.Context, userID, deviceID uuid.UUID, label string) (Device, error) {
	return r.updateDeviceLabel(userID, deviceID, label, nil)
}

func (r *InMemDeviceRepository) updateDeviceLabel(userID, deviceID uuid.UUID, label string, j *undoJournal) (Device, error) {
	return r.update(deviceID, j, func(d *Device) bool {
		if d.UserID != userID {
			return false
		}
		d.DeviceLabel = label
		return true
	})
}

// SetDeviceActive flips the active flag of a device owned by the user
func (r *InMemDeviceRepository) SetDeviceActive(ctx context.Context, userID, deviceID uuid.UUID, active bool) (Device, error) {
	return r.setDeviceActive(userID, deviceID, active, nil)
}

func (r *InMemDeviceRepository) setDeviceActive(userID, deviceID uuid.UUID, active bool, j *undoJournal) (Device, error) {
	return r.update(deviceID, j, func(d *Device) bool {
		if d.UserID != userID {
			return false
		}
		d.IsActive = active
		return true
	})
}

// IsUserBlocked reports the user's blocked flag
func (r *InMemDeviceRepository) IsUserBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked[userID], nil
}

// SetUserBlocked sets or clears the user's blocked flag
func (r *InMemDeviceRepository) SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool) error {
	return r.setUserBlocked(userID, blocked, nil)
}

func (r *InMemDeviceRepository) setUserBlocked(userID uuid.UUID, blocked bool, j *undoJournal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.blocked[userID]
	if blocked {
		r.blocked[userID] = true
	} else {
		delete(r.blocked, userID)
	}
	return r.commit(j, func() {
		if existed {
			r.blocked[userID] = prev
		} else {
			delete(r.blocked, userID)
		}
	})
}

// WithUserLock holds the user's lock while fn runs. Waiting longer than the lock
// timeout fails with a TRANSIENT error; when fn fails its mutations are undone.
func (r *InMemDeviceRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(repo DeviceRepository) error) error {
	release, err := r.acquireUserLock(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	tx := &inMemUserTx{InMemDeviceRepository: r, journal: &undoJournal{}}
	if err := fn(tx); err != nil {
		r.rollback(tx.journal)
		return err
	}
	return nil
}

func (r *InMemDeviceRepository) acquireUserLock(ctx context.Context, userID uuid.UUID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to acquire user lock: %w", err)
	}
	lock := r.userLock(userID)

	var timeout <-chan time.Time
	if r.lockTimeout > 0 {
		timer := time.NewTimer(r.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire user lock: %w", ctx.Err())
	case <-timeout:
		slog.Warn("Timed out waiting for user lock", "userID", userID, "timeout", r.lockTimeout)
		return nil, apperrors.Transient(ErrLockTimeout, "failed to lock user")
	}
}

// rollback undoes journaled mutations newest first and saves the restored state
func (r *InMemDeviceRepository) rollback(j *undoJournal) {
	if len(j.undo) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	if r.persist != nil {
		if err := r.persist(); err != nil {
			slog.Error("Failed to save rolled back state", "err", err)
		}
	}
}

// WithTx returns the repository itself; in-memory storage has no transactions
func (r *InMemDeviceRepository) WithTx(tx interface{}) DeviceRepository {
	return r
}

func (r *InMemDeviceRepository) userLock(userID uuid.UUID) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.userLocks[userID]
	if !ok {
		lock = make(chan struct{}, 1)
		r.userLocks[userID] = lock
	}
	return lock
}

// update applies mutate to a stored device; mutate returns false when the caller may not touch it
func (r *InMemDeviceRepository) update(deviceID uuid.UUID, j *undoJournal, mutate func(d *Device) bool) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.devices[deviceID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	updated := prev
	if !mutate(&updated) {
		return Device{}, ErrDeviceNotFound
	}
	r.devices[deviceID] = updated
	if err := r.commit(j, func() { r.devices[deviceID] = prev }); err != nil {
		return Device{}, err
	}
	return updated, nil
}

// commit runs the persist hook and undoes the mutation if it fails. Inside
// WithUserLock the undo is also journaled so a failing fn can be rolled back.
func (r *InMemDeviceRepository) commit(j *undoJournal, undo func()) error {
	if r.persist != nil {
		if err := r.persist(); err != nil {
			undo()
			return fmt.Errorf("failed to save: %w", err)
		}
	}
	if j != nil {
		j.undo = append(j.undo, undo)
	}
	return nil
}

type undoJournal struct {
	undo []func()
}

// inMemUserTx is the repository handed to WithUserLock callbacks; its writes are journaled
type inMemUserTx struct {
	*InMemDeviceRepository
	journal *undoJournal
}

func (t *inMemUserTx) CreateDevice(ctx context.Context, device Device) (Device, error) {
	return t.createDevice(device, t.journal)
}

func (t *inMemUserTx) UpdateDeviceFingerprint(ctx context.Context, deviceID uuid.UUID, fp fingerprint.Fingerprint, hash, label string, lastUsedAt time.Time) (Device, error) {
	return t.updateDeviceFingerprint(deviceID, fp, hash, label, lastUsedAt, t.journal)
}

func (t *inMemUserTx) TouchDevice(ctx context.Context, deviceID uuid.UUID, lastUsedAt time.Time) (Device, error) {
	return t.touchDevice(deviceID, lastUsedAt, t.journal)
}

func (t *inMemUserTx) UpdateDeviceLabel(ctx context.Context, userID, deviceID uuid.UUID, label string) (Device, error) {
	return t.updateDeviceLabel(userID, deviceID, label, t.journal)
}

func (t *inMemUserTx) SetDeviceActive(ctx context.Context, userID, deviceID uuid.UUID, active bool) (Device, error) {
	return t.setDeviceActive(userID, deviceID, active, t.journal)
}

func (t *inMemUserTx) SetUserBlocked(ctx context.Context, userID uuid.UUID, blocked bool) error {
	return t.setUserBlocked(userID, blocked, t.journal)
}

func (t *inMemUserTx) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(repo DeviceRepository) error) error {
	return fmt.Errorf("user lock already held")
}

func (t *inMemUserTx) WithTx(tx interface{}) DeviceRepository {
	return t
}
