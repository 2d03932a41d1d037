package device

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tendant/simple-device/pkg/errors"
	"github.com/tendant/simple-device/pkg/fingerprint"
)

const (
	chromeMacUA      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	safariIPhoneUA   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
)

func laptopPayload() map[string]any {
	return map[string]any{
		"userAgent":           chromeMacUA,
		"platform":            "MacIntel",
		"screen":              map[string]any{"width": 1920, "height": 1080, "colorDepth": 24},
		"timezone":            "America/New_York",
		"language":            "en-US",
		"hardwareConcurrency": 8,
		"vendor":              "Google Inc.",
		"cookieEnabled":       true,
	}
}

func desktopPayload() map[string]any {
	return map[string]any{
		"userAgent":           firefoxWindowsUA,
		"platform":            "Win32",
		"screen":              map[string]any{"width": 1366, "height": 768, "colorDepth": 24},
		"timezone":            "Europe/Berlin",
		"language":            "de-DE",
		"hardwareConcurrency": 4,
		"cookieEnabled":       true,
	}
}

func phonePayload() map[string]any {
	return map[string]any{
		"userAgent":           safariIPhoneUA,
		"platform":            "iPhone",
		"screen":              map[string]any{"width": 390, "height": 844, "colorDepth": 32},
		"timezone":            "Asia/Tokyo",
		"language":            "ja-JP",
		"hardwareConcurrency": 6,
		"maxTouchPoints":      5,
	}
}

// distinctPayload returns a fingerprint no other distinctPayload(j != i) is similar to
func distinctPayload(i int) map[string]any {
	return map[string]any{
		"userAgent":           fmt.Sprintf("TestAgent/%d", i),
		"platform":            fmt.Sprintf("Platform-%d", i),
		"screen":              map[string]any{"width": 1000 + i, "height": 700 + i, "colorDepth": 24},
		"timezone":            "UTC",
		"hardwareConcurrency": 2,
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so successive registrations are ordered
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingBlockCache struct {
	mu      sync.Mutex
	blocked map[uuid.UUID]bool
	marks   int
	clears  int
}

func newRecordingBlockCache() *recordingBlockCache {
	return &recordingBlockCache{blocked: make(map[uuid.UUID]bool)}
}

func (c *recordingBlockCache) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked[userID], nil
}

func (c *recordingBlockCache) MarkBlocked(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[userID] = true
	c.marks++
	return nil
}

func (c *recordingBlockCache) Clear(ctx context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, userID)
	c.clears++
	return nil
}

func setupDeviceService(t *testing.T) (*DeviceService, *InMemDeviceRepository) {
	t.Helper()
	repo := NewInMemDeviceRepository()
	service := NewDeviceServiceWithOptions(repo, DeviceServiceOptions{
		DeviceCap: 2,
		Now:       newTestClock().Now,
	})
	return service, repo
}

func activeCount(t *testing.T, repo DeviceRepository, userID uuid.UUID) int {
	t.Helper()
	count, err := repo.CountActiveDevices(context.Background(), userID)
	require.NoError(t, err)
	return count
}

func TestDeviceService_RegisterDevice_ExactMatch(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)
	assert.Equal(t, userID, first.Device.UserID)
	assert.True(t, first.Device.IsActive)
	assert.Equal(t, "Chrome on Mac", first.Device.DeviceLabel)
	assert.Len(t, first.Device.Hash, 64)

	second, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, second.Outcome)
	assert.Equal(t, first.Device.ID, second.Device.ID)
	assert.True(t, second.Device.LastUsedAt.After(first.Device.LastUsedAt))
	assert.Equal(t, first.Device.CreatedAt, second.Device.CreatedAt)
	assert.Equal(t, 1, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_AcceptsJSON(t *testing.T) {
	service, _ := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	fromMap, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)

	raw := []byte(`{"vendor":"Google Inc.","cookieEnabled":true,"hardwareConcurrency":8,"language":"en-US",
		"timezone":"America/New_York","screen":{"colorDepth":24,"height":1080,"width":1920},
		"platform":"MacIntel","userAgent":"` + chromeMacUA + `"}`)
	fromJSON, err := service.RegisterDevice(ctx, userID, raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, fromJSON.Outcome)
	assert.Equal(t, fromMap.Device.ID, fromJSON.Device.ID)
}

func TestDeviceService_RegisterDevice_SimilarKeepsLabel(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	created, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	renamed, err := service.RenameDevice(ctx, userID, created.Device.ID, "Work laptop")
	require.NoError(t, err)
	require.Equal(t, "Work laptop", renamed.DeviceLabel)

	drifted := laptopPayload()
	drifted["timezone"] = "America/Chicago"
	reg, err := service.RegisterDevice(ctx, userID, drifted)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSimilar, reg.Outcome)
	assert.Equal(t, created.Device.ID, reg.Device.ID)
	assert.InDelta(t, 0.9, reg.Score, 1e-9)
	assert.Equal(t, "Work laptop", reg.Device.DeviceLabel)
	assert.Equal(t, "America/Chicago", reg.Device.Fingerprint.Timezone)
	assert.NotEqual(t, created.Device.Hash, reg.Device.Hash)
	assert.Equal(t, 1, activeCount(t, repo, userID))

	// the overwritten fingerprint is now an exact match
	again, err := service.RegisterDevice(ctx, userID, drifted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, again.Outcome)
}

func TestDeviceService_RegisterDevice_LowWeightOverlapIsNewDevice(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)

	other := desktopPayload()
	other["hardwareConcurrency"] = 8
	other["vendor"] = "Google Inc."
	reg, err := service.RegisterDevice(ctx, userID, other)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, reg.Outcome)
	assert.Equal(t, 2, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_Scenario(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	reg, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, reg.Outcome)

	drifted := laptopPayload()
	drifted["timezone"] = "America/Chicago"
	reg, err = service.RegisterDevice(ctx, userID, drifted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimilar, reg.Outcome)
	assert.Equal(t, 1, activeCount(t, repo, userID))

	reg, err = service.RegisterDevice(ctx, userID, desktopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, reg.Outcome)
	assert.Equal(t, 2, activeCount(t, repo, userID))

	_, err = service.RegisterDevice(ctx, userID, phonePayload())
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))
	assert.Equal(t, 2, activeCount(t, repo, userID))

	details := apperrors.GetDetails(err)
	assert.Equal(t, userID.String(), details["user_id"])
	assert.Equal(t, 2, details["limit"])

	blocked, err := service.IsUserBlocked(ctx, userID)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestDeviceService_RegisterDevice_BlockedUser(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	require.NoError(t, repo.SetUserBlocked(ctx, userID, true))

	// known devices are refused too
	_, err = service.RegisterDevice(ctx, userID, laptopPayload())
	require.Error(t, err)
	assert.True(t, IsUserBlocked(err))
	assert.Equal(t, 403, apperrors.HTTPStatus(err))

	devices, err := service.ListDevices(ctx, userID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

func TestDeviceService_RegisterDevice_InvalidFingerprint(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name string
		raw  any
	}{
		{"not an object", "chrome"},
		{"malformed json", []byte(`{"platform":`)},
		{"no identifying signal", map[string]any{"timezone": "UTC"}},
		{"fractional screen", map[string]any{"platform": "Win32", "screen": map[string]any{"width": 1366.5, "height": 768}}},
		{"negative cores", map[string]any{"platform": "Win32", "hardwareConcurrency": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.RegisterDevice(ctx, userID, tt.raw)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Equal(t, 400, apperrors.HTTPStatus(err))
		})
	}
	assert.Equal(t, 0, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_ValidationBeforeBlockCheck(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, repo.SetUserBlocked(ctx, userID, true))

	_, err := service.RegisterDevice(ctx, userID, map[string]any{})
	assert.True(t, IsValidation(err))
}

func TestDeviceService_RegisterDevice_CrossUserCollision(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()

	original, err := service.RegisterDevice(ctx, owner, laptopPayload())
	require.NoError(t, err)

	reg, err := service.RegisterDevice(ctx, other, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, reg.Outcome)
	assert.True(t, reg.HashCollision)
	assert.Equal(t, other, reg.Device.UserID)
	assert.NotEqual(t, original.Device.ID, reg.Device.ID)
	assert.NotEqual(t, original.Device.Hash, reg.Device.Hash)

	// the owner's device is untouched
	owned, err := service.GetDevice(ctx, owner, original.Device.ID)
	require.NoError(t, err)
	assert.Equal(t, original.Device.Hash, owned.Hash)
	assert.Equal(t, original.Device.LastUsedAt, owned.LastUsedAt)

	// a return visit by the second user reuses its device instead of taking a slot
	again, err := service.RegisterDevice(ctx, other, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimilar, again.Outcome)
	assert.True(t, again.HashCollision)
	assert.Equal(t, reg.Device.ID, again.Device.ID)
	assert.Equal(t, 1, activeCount(t, repo, other))
	assert.Equal(t, 1, activeCount(t, repo, owner))
}

func TestDeviceService_RegisterDevice_ConcurrentAtCapMinusOne(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)

	payloads := []map[string]any{desktopPayload(), phonePayload()}
	errs := make([]error, len(payloads))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, payload := range payloads {
		wg.Add(1)
		go func(i int, payload map[string]any) {
			defer wg.Done()
			<-start
			_, errs[i] = service.RegisterDevice(ctx, userID, payload)
		}(i, payload)
	}
	close(start)
	wg.Wait()

	succeeded, exceeded := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsLimitExceeded(err):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, exceeded)
	assert.Equal(t, 2, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_ConcurrentNeverExceedsCap(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	const workers = 10
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = service.RegisterDevice(ctx, userID, distinctPayload(i))
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, IsLimitExceeded(err) || IsUserBlocked(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 2, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_ConcurrentSameFingerprint(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	const workers = 5
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = service.RegisterDevice(ctx, userID, laptopPayload())
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, activeCount(t, repo, userID))
}

func TestDeviceService_DeactivateFreesSlot(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	desktop, err := service.RegisterDevice(ctx, userID, desktopPayload())
	require.NoError(t, err)

	deactivated, err := service.DeactivateDevice(ctx, userID, desktop.Device.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	reg, err := service.RegisterDevice(ctx, userID, phonePayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, reg.Outcome)
	assert.Equal(t, 2, activeCount(t, repo, userID))

	// the admin path respects the cap but does not block
	_, err = service.ReactivateDevice(ctx, userID, desktop.Device.ID)
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))
	blocked, err := service.IsUserBlocked(ctx, userID)
	require.NoError(t, err)
	assert.False(t, blocked)

	active, err := service.ListActiveDevices(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	all, err := service.ListDevices(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeviceService_RegisterDevice_ReactivatesInactiveExactMatch(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	created, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	_, err = service.DeactivateDevice(ctx, userID, created.Device.ID)
	require.NoError(t, err)
	require.Equal(t, 0, activeCount(t, repo, userID))

	reg, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReactivated, reg.Outcome)
	assert.Equal(t, created.Device.ID, reg.Device.ID)
	assert.True(t, reg.Device.IsActive)
	assert.Equal(t, 1, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_ReactivationCountsAgainstCap(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	laptop, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	_, err = service.DeactivateDevice(ctx, userID, laptop.Device.ID)
	require.NoError(t, err)
	_, err = service.RegisterDevice(ctx, userID, desktopPayload())
	require.NoError(t, err)
	_, err = service.RegisterDevice(ctx, userID, phonePayload())
	require.NoError(t, err)

	_, err = service.RegisterDevice(ctx, userID, laptopPayload())
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))
	assert.Equal(t, 2, activeCount(t, repo, userID))
}

func TestDeviceService_RegisterDevice_InactiveExactMatchPrefersActiveSimilar(t *testing.T) {
	service, repo := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	original, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	_, err = service.DeactivateDevice(ctx, userID, original.Device.ID)
	require.NoError(t, err)

	moved := laptopPayload()
	moved["timezone"] = "America/Chicago"
	replacement, err := service.RegisterDevice(ctx, userID, moved)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, replacement.Outcome)
	_, err = service.RegisterDevice(ctx, userID, desktopPayload())
	require.NoError(t, err)
	require.Equal(t, 2, activeCount(t, repo, userID))

	// the original fingerprint hits the inactive row but the active laptop is the same machine
	reg, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimilar, reg.Outcome)
	assert.Equal(t, replacement.Device.ID, reg.Device.ID)
	assert.NotEqual(t, original.Device.Hash, reg.Device.Hash)
	assert.Equal(t, 2, activeCount(t, repo, userID))

	blocked, err := service.IsUserBlocked(ctx, userID)
	require.NoError(t, err)
	assert.False(t, blocked)

	inactive, err := service.GetDevice(ctx, userID, original.Device.ID)
	require.NoError(t, err)
	assert.False(t, inactive.IsActive)
	assert.Equal(t, original.Device.Hash, inactive.Hash)

	// a second return visit takes the same path
	again, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSimilar, again.Outcome)
	assert.Equal(t, replacement.Device.ID, again.Device.ID)
}

func TestDeviceService_UnblockUser(t *testing.T) {
	repo := NewInMemDeviceRepository()
	cache := newRecordingBlockCache()
	service := NewDeviceServiceWithOptions(repo, DeviceServiceOptions{
		DeviceCap:  1,
		BlockCache: cache,
		Now:        newTestClock().Now,
	})
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	_, err = service.RegisterDevice(ctx, userID, desktopPayload())
	require.True(t, IsLimitExceeded(err))
	assert.Equal(t, 1, cache.marks)

	status, err := service.GetUserStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, UserStatus{UserID: userID, Blocked: true, ActiveDevices: 1, DeviceCap: 1}, status)

	require.NoError(t, service.UnblockUser(ctx, userID))
	assert.Equal(t, 1, cache.clears)

	reg, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, reg.Outcome)

	status, err = service.GetUserStatus(ctx, userID)
	require.NoError(t, err)
	assert.False(t, status.Blocked)
}

// blockReadFailingRepository cannot read the blocked flag
type blockReadFailingRepository struct {
	*InMemDeviceRepository
}

func (r *blockReadFailingRepository) IsUserBlocked(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, fmt.Errorf("connection refused")
}

func TestDeviceService_BlockCacheAnswersWhenStoreFails(t *testing.T) {
	repo := &blockReadFailingRepository{InMemDeviceRepository: NewInMemDeviceRepository()}
	cache := newRecordingBlockCache()
	service := NewDeviceServiceWithOptions(repo, DeviceServiceOptions{BlockCache: cache})
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.MarkBlocked(ctx, userID))
	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	assert.True(t, IsUserBlocked(err))
	assert.Equal(t, 0, activeCount(t, repo, userID))

	// without a cached block the store failure surfaces
	_, err = service.RegisterDevice(ctx, uuid.New(), laptopPayload())
	require.Error(t, err)
	assert.False(t, IsUserBlocked(err))
}

func TestDeviceService_BlockCacheEvictedAfterExternalUnblock(t *testing.T) {
	repo := NewInMemDeviceRepository()
	cache := newRecordingBlockCache()
	service := NewDeviceServiceWithOptions(repo, DeviceServiceOptions{
		DeviceCap:  1,
		BlockCache: cache,
		Now:        newTestClock().Now,
	})
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	_, err = service.RegisterDevice(ctx, userID, desktopPayload())
	require.True(t, IsLimitExceeded(err))
	cached, err := cache.IsBlocked(ctx, userID)
	require.NoError(t, err)
	require.True(t, cached)

	// the flag is cleared by another writer, not through UnblockUser
	require.NoError(t, repo.SetUserBlocked(ctx, userID, false))

	reg, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExact, reg.Outcome)
	assert.Equal(t, 1, cache.clears)
	cached, err = cache.IsBlocked(ctx, userID)
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestDeviceService_BlockCacheFilledFromRepository(t *testing.T) {
	repo := NewInMemDeviceRepository()
	cache := newRecordingBlockCache()
	service := NewDeviceServiceWithOptions(repo, DeviceServiceOptions{BlockCache: cache})
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.SetUserBlocked(ctx, userID, true))
	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	assert.True(t, IsUserBlocked(err))

	cached, err := cache.IsBlocked(ctx, userID)
	require.NoError(t, err)
	assert.True(t, cached)
}

// lockFailingRepository fails every attempt to take the user lock
type lockFailingRepository struct {
	*InMemDeviceRepository
	err error
}

func (r *lockFailingRepository) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(repo DeviceRepository) error) error {
	return r.err
}

func TestDeviceService_RegisterDevice_TransientStoreFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"lock timeout", apperrors.Transient(context.DeadlineExceeded, "failed to lock user")},
		{"deadline", context.DeadlineExceeded},
		{"duplicate hash", ErrDuplicateHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &lockFailingRepository{InMemDeviceRepository: NewInMemDeviceRepository(), err: tt.err}
			service := NewDeviceService(repo)
			ctx := context.Background()
			userID := uuid.New()

			_, err := service.RegisterDevice(ctx, userID, laptopPayload())
			require.Error(t, err)
			assert.True(t, IsTransient(err))
			assert.Equal(t, 503, apperrors.HTTPStatus(err))
			assert.Equal(t, 0, activeCount(t, repo, userID))
		})
	}
}

func TestDeviceService_RenameDevice(t *testing.T) {
	service, _ := setupDeviceService(t)
	ctx := context.Background()
	userID := uuid.New()

	reg, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)

	renamed, err := service.RenameDevice(ctx, userID, reg.Device.ID, "  Home Mac  ")
	require.NoError(t, err)
	assert.Equal(t, "Home Mac", renamed.DeviceLabel)

	_, err = service.RenameDevice(ctx, userID, reg.Device.ID, "   ")
	assert.True(t, IsValidation(err))

	_, err = service.RenameDevice(ctx, uuid.New(), reg.Device.ID, "Stolen")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDeviceNotFound))
}

func TestDeviceService_GetDevice_NotFound(t *testing.T) {
	service, _ := setupDeviceService(t)

	_, err := service.GetDevice(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
}

func TestNewDeviceServiceWithOptions_Defaults(t *testing.T) {
	service := NewDeviceServiceWithOptions(NewInMemDeviceRepository(), DeviceServiceOptions{})
	assert.Equal(t, DefaultDeviceCap, service.DeviceCap())

	custom := fingerprint.NewScorer()
	custom.Threshold = 0.95
	service = NewDeviceServiceWithOptions(NewInMemDeviceRepository(), DeviceServiceOptions{Scorer: custom})
	ctx := context.Background()
	userID := uuid.New()

	_, err := service.RegisterDevice(ctx, userID, laptopPayload())
	require.NoError(t, err)
	drifted := laptopPayload()
	drifted["timezone"] = "America/Chicago"
	reg, err := service.RegisterDevice(ctx, userID, drifted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, reg.Outcome)
}
