package device

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-device/pkg/errors"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

// DefaultDeviceCap is the number of active devices a user may hold
const DefaultDeviceCap = 2

// Outcome tells the caller which path a registration took
type Outcome string

const (
	OutcomeExact       Outcome = "exact"
	OutcomeSimilar     Outcome = "similar"
	OutcomeCreated     Outcome = "created"
	OutcomeReactivated Outcome = "reactivated"
)

// Registration is the result of RegisterDevice
type Registration struct {
	Device  Device
	Outcome Outcome
	// Score is the similarity score for OutcomeSimilar
	Score float64
	// HashCollision is set when the exact hash belonged to another user and a salted hash was stored
	HashCollision bool
}

// UserStatus summarizes a user's device quota
type UserStatus struct {
	UserID        uuid.UUID `json:"user_id"`
	Blocked       bool      `json:"blocked"`
	ActiveDevices int       `json:"active_devices"`
	DeviceCap     int       `json:"device_cap"`
}

// DeviceServiceOptions configures the registration coordinator
type DeviceServiceOptions struct {
	DeviceCap  int
	Scorer     *fingerprint.Scorer
	BlockCache BlockCache
	Now        func() time.Time
}

// DefaultDeviceServiceOptions returns the default cap, scorer and a no-op cache
func DefaultDeviceServiceOptions() DeviceServiceOptions {
	return DeviceServiceOptions{
		DeviceCap:  DefaultDeviceCap,
		Scorer:     fingerprint.NewScorer(),
		BlockCache: NoOpBlockCache{},
		Now:        time.Now,
	}
}

// DeviceService recognizes devices and enforces the per-user device cap
type DeviceService struct {
	deviceRepository DeviceRepository
	deviceCap        int
	scorer           *fingerprint.Scorer
	blockCache       BlockCache
	now              func() time.Time
}

// NewDeviceService creates a new device service with default options
func NewDeviceService(deviceRepository DeviceRepository) *DeviceService {
	return NewDeviceServiceWithOptions(deviceRepository, DefaultDeviceServiceOptions())
}

// NewDeviceServiceWithOptions creates a new device service; zero-valued options fall back to defaults
func NewDeviceServiceWithOptions(deviceRepository DeviceRepository, options DeviceServiceOptions) *DeviceService {
	defaults := DefaultDeviceServiceOptions()
	if options.DeviceCap <= 0 {
		options.DeviceCap = defaults.DeviceCap
	}
	if options.Scorer == nil {
		options.Scorer = defaults.Scorer
	}
	if options.BlockCache == nil {
		options.BlockCache = defaults.BlockCache
	}
	if options.Now == nil {
		options.Now = defaults.Now
	}
	return &DeviceService{
		deviceRepository: deviceRepository,
		deviceCap:        options.DeviceCap,
		scorer:           options.Scorer,
		blockCache:       options.BlockCache,
		now:              options.Now,
	}
}

// DeviceCap returns the configured cap
func (s *DeviceService) DeviceCap() int {
	return s.deviceCap
}

// RegisterDevice recognizes or registers the device described by rawFingerprint.
//
// An exact hash match on an active device of the user is a return visit. Otherwise the user's
// active devices are scored for similarity and the best match above the threshold
// takes the new fingerprint; an inactive exact match is reactivated only when no
// active device matches. Anything else is created inside WithUserLock, where
// the blocked flag and active count are re-read before the insert. Reaching the
// cap there blocks the user and returns a DEVICE_LIMIT_EXCEEDED error.
//
// Errors carry one of the codes VALIDATION_FAILED, USER_BLOCKED,
// DEVICE_LIMIT_EXCEEDED or TRANSIENT. No retry happens here.
func (s *DeviceService) RegisterDevice(ctx context.Context, userID uuid.UUID, rawFingerprint any) (Registration, error) {
	fp, err := fingerprint.Canonicalize(rawFingerprint)
	if err != nil {
		return Registration{}, validationError(err)
	}

	if err := s.checkNotBlocked(ctx, userID); err != nil {
		return Registration{}, err
	}

	hash := fingerprint.Hash(fp)
	now := s.now().UTC()

	existing, err := s.deviceRepository.FindDeviceByHash(ctx, hash)
	collision, inactiveMatch := false, false
	switch {
	case err == nil && existing.UserID == userID && existing.IsActive:
		touched, err := s.deviceRepository.TouchDevice(ctx, existing.ID, now)
		if err != nil {
			return Registration{}, storeError(err, "failed to update device last use")
		}
		slog.Info("Recognized device by exact match", "userID", userID, "deviceID", touched.ID)
		return Registration{Device: touched, Outcome: OutcomeExact}, nil

	case err == nil && existing.UserID == userID:
		// inactive row for this user; reactivated below unless an active device matches
		inactiveMatch = true

	case err == nil:
		// never merge identities across users
		slog.Warn("Fingerprint hash already registered to another user, storing salted hash",
			"userID", userID, "ownerID", existing.UserID, "hash", hash)
		hash = fingerprint.SaltedHash(fp, userID, now)
		collision = true

	case !errors.Is(err, ErrDeviceNotFound):
		return Registration{}, storeError(err, "failed to look up device")
	}

	candidates, err := s.deviceRepository.FindActiveDevicesByUser(ctx, userID)
	if err != nil {
		return Registration{}, storeError(err, "failed to list active devices")
	}
	known := make([]fingerprint.Fingerprint, len(candidates))
	for i, c := range candidates {
		known[i] = c.Fingerprint
	}
	if idx, score, ok := s.scorer.BestMatch(fp, known); ok {
		matched := candidates[idx]
		if inactiveMatch {
			// the plain hash stays with the inactive row
			hash = fingerprint.SaltedHash(fp, userID, now)
		}
		updated, err := s.deviceRepository.UpdateDeviceFingerprint(ctx, matched.ID, fp, hash, matched.DeviceLabel, now)
		if err != nil {
			return Registration{}, storeError(err, "failed to update device fingerprint")
		}
		slog.Info("Recognized device by similarity", "userID", userID, "deviceID", updated.ID, "score", score)
		return Registration{Device: updated, Outcome: OutcomeSimilar, Score: score, HashCollision: collision}, nil
	}

	reg, err := s.registerWithinQuota(ctx, userID, newDevice(userID, fp, hash, now))
	if err != nil {
		return Registration{}, err
	}
	reg.HashCollision = collision
	return reg, nil
}

// registerWithinQuota inserts or reactivates the candidate while holding the user's lock
func (s *DeviceService) registerWithinQuota(ctx context.Context, userID uuid.UUID, candidate Device) (Registration, error) {
	var (
		result   Registration
		breached bool
	)

	err := s.deviceRepository.WithUserLock(ctx, userID, func(repo DeviceRepository) error {
		blocked, err := repo.IsUserBlocked(ctx, userID)
		if err != nil {
			return err
		}
		if blocked {
			return apperrors.UserBlocked(userID.String())
		}

		existing, err := repo.FindDeviceByHash(ctx, candidate.Hash)
		switch {
		case err == nil && existing.UserID != userID:
			return apperrors.New(apperrors.ErrCodeTransient, "device hash was claimed concurrently, retry registration")
		case err == nil && existing.IsActive:
			// a concurrent registration of the same fingerprint committed first
			touched, err := repo.TouchDevice(ctx, existing.ID, candidate.LastUsedAt)
			if err != nil {
				return err
			}
			result = Registration{Device: touched, Outcome: OutcomeExact}
			return nil
		case err != nil && !errors.Is(err, ErrDeviceNotFound):
			return err
		}
		inactive := err == nil

		count, err := repo.CountActiveDevices(ctx, userID)
		if err != nil {
			return err
		}
		if count >= s.deviceCap {
			if err := repo.SetUserBlocked(ctx, userID, true); err != nil {
				return err
			}
			breached = true
			return nil
		}

		if inactive {
			if _, err := repo.SetDeviceActive(ctx, userID, existing.ID, true); err != nil {
				return err
			}
			touched, err := repo.TouchDevice(ctx, existing.ID, candidate.LastUsedAt)
			if err != nil {
				return err
			}
			result = Registration{Device: touched, Outcome: OutcomeReactivated}
			return nil
		}

		created, err := repo.CreateDevice(ctx, candidate)
		if err != nil {
			return err
		}
		result = Registration{Device: created, Outcome: OutcomeCreated}
		return nil
	})
	if err != nil {
		return Registration{}, storeError(err, "failed to register device")
	}

	if breached {
		slog.Warn("Device limit exceeded, user blocked", "userID", userID, "deviceCap", s.deviceCap)
		if err := s.blockCache.MarkBlocked(ctx, userID); err != nil {
			slog.Warn("Failed to cache blocked user", "userID", userID, "err", err)
		}
		return Registration{}, apperrors.DeviceLimitExceeded(userID.String(), s.deviceCap)
	}

	slog.Info("Device registered", "userID", userID, "deviceID", result.Device.ID, "outcome", result.Outcome)
	return result, nil
}

// checkNotBlocked reads the block state from the repository. The cache only answers
// when the repository read fails; an entry the repository contradicts is evicted.
func (s *DeviceService) checkNotBlocked(ctx context.Context, userID uuid.UUID) error {
	cached, err := s.blockCache.IsBlocked(ctx, userID)
	if err != nil {
		slog.Warn("Blocked-user cache lookup failed", "userID", userID, "err", err)
		cached = false
	}

	blocked, err := s.deviceRepository.IsUserBlocked(ctx, userID)
	if err != nil {
		if cached {
			slog.Warn("Failed to read user block state, using cached block", "userID", userID, "err", err)
			return apperrors.UserBlocked(userID.String())
		}
		return storeError(err, "failed to read user block state")
	}

	switch {
	case blocked && !cached:
		if err := s.blockCache.MarkBlocked(ctx, userID); err != nil {
			slog.Warn("Failed to cache blocked user", "userID", userID, "err", err)
		}
	case !blocked && cached:
		slog.Info("Evicting stale blocked-user cache entry", "userID", userID)
		if err := s.blockCache.Clear(ctx, userID); err != nil {
			slog.Warn("Failed to evict blocked user from cache", "userID", userID, "err", err)
		}
	}
	if blocked {
		return apperrors.UserBlocked(userID.String())
	}
	return nil
}

// ListActiveDevices returns the user's active devices, newest first, one per signature
func (s *DeviceService) ListActiveDevices(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	devices, err := s.deviceRepository.FindActiveDevicesByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "failed to list active devices")
	}
	return devices, nil
}

// ListDevices returns every device of the user, active or not
func (s *DeviceService) ListDevices(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	slog.Debug("Finding devices for user", "userID", userID)
	devices, err := s.deviceRepository.FindDevicesByUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, "failed to list devices")
	}
	return devices, nil
}

// GetDevice returns a single device of the user
func (s *DeviceService) GetDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error) {
	device, err := s.deviceRepository.GetDevice(ctx, userID, deviceID)
	if err != nil {
		return Device{}, storeError(err, "failed to get device")
	}
	return device, nil
}

// RenameDevice changes a device label
func (s *DeviceService) RenameDevice(ctx context.Context, userID, deviceID uuid.UUID, label string) (Device, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Device{}, apperrors.ValidationFailed(map[string]interface{}{"label": "must not be empty"})
	}
	device, err := s.deviceRepository.UpdateDeviceLabel(ctx, userID, deviceID, label)
	if err != nil {
		return Device{}, storeError(err, "failed to rename device")
	}
	return device, nil
}

// DeactivateDevice frees the device's slot in the quota
func (s *DeviceService) DeactivateDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error) {
	device, err := s.deviceRepository.SetDeviceActive(ctx, userID, deviceID, false)
	if err != nil {
		return Device{}, storeError(err, "failed to deactivate device")
	}
	slog.Info("Device deactivated", "userID", userID, "deviceID", deviceID)
	return device, nil
}

// ReactivateDevice is an administrative action. It respects the cap but never blocks the user.
func (s *DeviceService) ReactivateDevice(ctx context.Context, userID, deviceID uuid.UUID) (Device, error) {
	var (
		result   Device
		breached bool
	)
	err := s.deviceRepository.WithUserLock(ctx, userID, func(repo DeviceRepository) error {
		device, err := repo.GetDevice(ctx, userID, deviceID)
		if err != nil {
			return err
		}
		if device.IsActive {
			result = device
			return nil
		}
		count, err := repo.CountActiveDevices(ctx, userID)
		if err != nil {
			return err
		}
		if count >= s.deviceCap {
			breached = true
			return nil
		}
		result, err = repo.SetDeviceActive(ctx, userID, deviceID, true)
		return err
	})
	if err != nil {
		return Device{}, storeError(err, "failed to reactivate device")
	}
	if breached {
		return Device{}, apperrors.DeviceLimitExceeded(userID.String(), s.deviceCap)
	}
	slog.Info("Device reactivated", "userID", userID, "deviceID", deviceID)
	return result, nil
}

// UnblockUser clears the blocked flag set by the quota guard
func (s *DeviceService) UnblockUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.deviceRepository.SetUserBlocked(ctx, userID, false); err != nil {
		return storeError(err, "failed to unblock user")
	}
	if err := s.blockCache.Clear(ctx, userID); err != nil {
		slog.Warn("Failed to clear blocked user from cache", "userID", userID, "err", err)
	}
	slog.Info("User unblocked", "userID", userID)
	return nil
}

// IsUserBlocked reports the authoritative blocked flag
func (s *DeviceService) IsUserBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	blocked, err := s.deviceRepository.IsUserBlocked(ctx, userID)
	if err != nil {
		return false, storeError(err, "failed to read user block state")
	}
	return blocked, nil
}

// GetUserStatus returns the blocked flag and quota usage for a user
func (s *DeviceService) GetUserStatus(ctx context.Context, userID uuid.UUID) (UserStatus, error) {
	blocked, err := s.IsUserBlocked(ctx, userID)
	if err != nil {
		return UserStatus{}, err
	}
	count, err := s.deviceRepository.CountActiveDevices(ctx, userID)
	if err != nil {
		return UserStatus{}, storeError(err, "failed to count active devices")
	}
	return UserStatus{UserID: userID, Blocked: blocked, ActiveDevices: count, DeviceCap: s.deviceCap}, nil
}

func newDevice(userID uuid.UUID, fp fingerprint.Fingerprint, hash string, now time.Time) Device {
	return Device{
		UserID:      userID,
		Fingerprint: fp,
		Hash:        hash,
		DeviceLabel: fingerprint.Label(fp),
		IsActive:    true,
		CreatedAt:   now,
		LastUsedAt:  now,
	}
}

func validationError(err error) error {
	var verr *fingerprint.ValidationError
	if errors.As(err, &verr) {
		return apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid fingerprint").WithDetails(verr.Details())
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid fingerprint")
}

// storeError keeps coded errors as they are and classifies repository sentinels
func storeError(err error, message string) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, ErrDeviceNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeDeviceNotFound, "device not found")
	case errors.Is(err, ErrDuplicateHash):
		return apperrors.Transient(err, "device was registered concurrently, retry registration")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Transient(err, message)
	}
	return apperrors.InternalWrap(err, message)
}

// IsLimitExceeded reports a DEVICE_LIMIT_EXCEEDED error
func IsLimitExceeded(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrCodeDeviceLimitExceeded)
}

// IsUserBlocked reports a USER_BLOCKED error
func IsUserBlocked(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrCodeUserBlocked)
}

// IsValidation reports a VALIDATION_FAILED error
func IsValidation(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrCodeValidationFailed)
}

// IsTransient reports a retryable store failure
func IsTransient(err error) bool {
	return apperrors.IsCode(err, apperrors.ErrCodeTransient)
}
