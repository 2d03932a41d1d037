package device

import (
	"fmt"
	"time"
)

// RepositoryConfig contains configuration for creating a device repository
type RepositoryConfig struct {
	// DB is required for PostgreSQL repositories (DBTX interface)
	DB DBTX
	// DataDir is required for file-based repositories
	DataDir string
	// LockTimeout bounds the per-user lock wait; zero uses DefaultLockTimeout
	LockTimeout time.Duration
}

// NewDeviceRepository creates a new device repository based on the persistence type
func NewDeviceRepository(persistenceType string, config RepositoryConfig) (DeviceRepository, error) {
	lockTimeout := config.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = DefaultLockTimeout
	}

	switch persistenceType {
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres repository")
		}
		return NewPostgresDeviceRepositoryWithLockTimeout(config.DB, lockTimeout), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file repository")
		}
		repo, err := NewFileDeviceRepository(config.DataDir)
		if err != nil {
			return nil, err
		}
		repo.lockTimeout = lockTimeout
		return repo, nil
	case "memory", "inmem":
		return NewInMemDeviceRepositoryWithLockTimeout(lockTimeout), nil
	case "noop", "none":
		return NewNoOpDeviceRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, memory, noop)", persistenceType)
	}
}
