package device

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRepo creates a temporary directory and repository for testing
func setupTestRepo(t *testing.T) (*FileDeviceRepository, string) {
	tempDir := t.TempDir()
	repo, err := NewFileDeviceRepository(tempDir)
	require.NoError(t, err)
	return repo, tempDir
}

func TestFileDeviceRepository_NewRepository(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "devices")

	// Should create directory if it doesn't exist
	repo, err := NewFileDeviceRepository(tempDir)
	assert.NoError(t, err)
	assert.NotNil(t, repo)
	assert.DirExists(t, tempDir)
	assert.NoFileExists(t, filepath.Join(tempDir, deviceDataFile))
}

func TestFileDeviceRepository_Persistence(t *testing.T) {
	repo1, tempDir := setupTestRepo(t)
	ctx := context.Background()
	userID := uuid.New()
	blockedID := uuid.New()
	usedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := repo1.CreateDevice(ctx, createTestDevice(t, userID, laptopPayload(), usedAt))
	require.NoError(t, err)
	inactive, err := repo1.CreateDevice(ctx, createTestDevice(t, userID, desktopPayload(), usedAt))
	require.NoError(t, err)
	_, err = repo1.SetDeviceActive(ctx, userID, inactive.ID, false)
	require.NoError(t, err)
	require.NoError(t, repo1.SetUserBlocked(ctx, blockedID, true))

	assert.FileExists(t, filepath.Join(tempDir, deviceDataFile))
	assert.NoFileExists(t, filepath.Join(tempDir, deviceDataFile+".tmp"))

	// Create new repository from same directory (simulating restart)
	repo2, err := NewFileDeviceRepository(tempDir)
	require.NoError(t, err)

	found, err := repo2.FindDeviceByHash(ctx, created.Hash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, created.DeviceLabel, found.DeviceLabel)
	assert.Equal(t, created.Fingerprint, found.Fingerprint)
	assert.True(t, created.LastUsedAt.Equal(found.LastUsedAt))

	count, err := repo2.CountActiveDevices(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	blocked, err := repo2.IsUserBlocked(ctx, blockedID)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestFileDeviceRepository_EmptyData(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, deviceDataFile), nil, 0644))

	repo, err := NewFileDeviceRepository(tempDir)
	require.NoError(t, err)

	devices, err := repo.FindDevicesByUser(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestFileDeviceRepository_CorruptData(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, deviceDataFile), []byte("{not json"), 0644))

	_, err := NewFileDeviceRepository(tempDir)
	assert.Error(t, err)
}

func TestFileDeviceRepository_SaveFailureRollsBack(t *testing.T) {
	repo, tempDir := setupTestRepo(t)
	ctx := context.Background()
	userID := uuid.New()

	// replace the data directory with a plain file so every save fails
	require.NoError(t, os.RemoveAll(tempDir))
	require.NoError(t, os.WriteFile(tempDir, []byte("x"), 0644))

	device := createTestDevice(t, userID, laptopPayload(), time.Now())
	_, err := repo.CreateDevice(ctx, device)
	require.Error(t, err)

	_, err = repo.FindDeviceByHash(ctx, device.Hash)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	err = repo.SetUserBlocked(ctx, userID, true)
	require.Error(t, err)
	blocked, err := repo.IsUserBlocked(ctx, userID)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestFileDeviceRepository_ConcurrentRegistration(t *testing.T) {
	repo, tempDir := setupTestRepo(t)
	service := NewDeviceServiceWithOptions(repo, DeviceServiceOptions{DeviceCap: 3})
	ctx := context.Background()
	userID := uuid.New()

	const workers = 12
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = service.RegisterDevice(ctx, userID, distinctPayload(i))
		}(i)
	}
	wg.Wait()

	reloaded, err := NewFileDeviceRepository(tempDir)
	require.NoError(t, err)
	count, err := reloaded.CountActiveDevices(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	blocked, err := reloaded.IsUserBlocked(ctx, userID)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestFileDeviceRepository_WithTx(t *testing.T) {
	repo, _ := setupTestRepo(t)
	assert.Same(t, repo, repo.WithTx(nil))
}

func TestFileDeviceRepository_WithUserLockRollbackIsSaved(t *testing.T) {
	repo, tempDir := setupTestRepo(t)
	ctx := context.Background()
	userID := uuid.New()
	device := createTestDevice(t, userID, laptopPayload(), time.Now())

	err := repo.WithUserLock(ctx, userID, func(tx DeviceRepository) error {
		if _, err := tx.CreateDevice(ctx, device); err != nil {
			return err
		}
		return ErrDuplicateHash
	})
	assert.ErrorIs(t, err, ErrDuplicateHash)

	reloaded, err := NewFileDeviceRepository(tempDir)
	require.NoError(t, err)
	_, err = reloaded.FindDeviceByHash(ctx, device.Hash)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
