// Package device provides device registration and per-user device cap enforcement for simple-device.
//
// A user may hold a small number of active devices. Each registration either
// recognizes a device already on file or claims a new slot; claiming a slot past
// the cap blocks the user until an administrator unblocks them.
//
// # Overview
//
// The device package provides:
//   - Device storage (PostgreSQL, file, in-memory, no-op)
//   - Exact recognition by fingerprint hash
//   - Similar recognition by weighted fingerprint similarity
//   - Quota-checked creation serialized per user
//   - Blocked-user state with an optional redis cache
//   - Administrative deactivate, reactivate and unblock
//
// # Basic Usage
//
//	import "github.com/tendant/simple-device/pkg/device"
//
//	repo := device.NewPostgresDeviceRepository(pool)
//	service := device.NewDeviceServiceWithOptions(repo, device.DeviceServiceOptions{
//		DeviceCap: 2,
//		Scorer:    fingerprint.NewScorer(),
//	})
//
//	reg, err := service.RegisterDevice(ctx, userID, rawFingerprint)
//	switch {
//	case device.IsLimitExceeded(err):
//		// the user is now blocked
//	case device.IsUserBlocked(err):
//		// blocked before this call
//	case device.IsTransient(err):
//		// safe to retry
//	case err != nil:
//		return err
//	}
//	slog.Info("registered", "device", reg.Device.ID, "outcome", reg.Outcome)
//
// # Registration Flow
//
//  1. Canonicalize the fingerprint (VALIDATION_FAILED on bad input)
//  2. Fail with USER_BLOCKED if the user is already blocked
//  3. Exact hash owned by the user: update last use
//  4. Exact hash owned by another user: switch to a user-salted hash and continue
//  5. Best similar active device above the threshold: overwrite its fingerprint
//  6. Otherwise, inside WithUserLock: re-read blocked flag and active count, then
//     insert, or block the user and return DEVICE_LIMIT_EXCEEDED
//
// # Concurrency
//
// Only step 6 changes the active count, so only step 6 runs under the per-user
// lock. PostgreSQL takes it with SELECT ... FOR UPDATE on the user's row inside a
// READ COMMITTED transaction; a lock wait beyond the lock timeout fails with a
// TRANSIENT error and leaves no partial row.
//
// # Related Packages
//
//   - pkg/fingerprint - canonicalization, hashing and similarity
//   - pkg/device/api - HTTP handlers
//   - pkg/retry - calling-layer retry policy
package device
