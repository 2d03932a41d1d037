package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const deviceDataFile = "devices.json"

// FileDeviceRepository implements DeviceRepository on top of the in-memory repository,
// writing a JSON snapshot to disk after every mutation
type FileDeviceRepository struct {
	*InMemDeviceRepository
	dataDir string
}

// deviceData represents the structure of data stored in the JSON file
type deviceData struct {
	Devices      []Device    `json:"devices"`
	BlockedUsers []uuid.UUID `json:"blocked_users"`
}

// NewFileDeviceRepository creates a new file-based device repository
func NewFileDeviceRepository(dataDir string) (*FileDeviceRepository, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileDeviceRepository{
		InMemDeviceRepository: NewInMemDeviceRepository(),
		dataDir:               dataDir,
	}
	repo.persist = repo.save

	// Load existing data
	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

// WithTx returns the repository itself; file storage has no transactions
func (r *FileDeviceRepository) WithTx(tx interface{}) DeviceRepository {
	return r
}

// load reads data from the JSON file
func (r *FileDeviceRepository) load() error {
	filePath := filepath.Join(r.dataDir, deviceDataFile)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var stored deviceData
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range stored.Devices {
		r.devices[d.ID] = d
		r.hashes[d.Hash] = d.ID
	}
	for _, userID := range stored.BlockedUsers {
		r.blocked[userID] = true
	}
	return nil
}

// save writes data to the JSON file; callers hold mu
func (r *FileDeviceRepository) save() error {
	stored := deviceData{
		Devices:      make([]Device, 0, len(r.devices)),
		BlockedUsers: make([]uuid.UUID, 0, len(r.blocked)),
	}
	for _, d := range r.devices {
		stored.Devices = append(stored.Devices, d)
	}
	SortByLastUsed(stored.Devices)
	for userID, blocked := range r.blocked {
		if blocked {
			stored.BlockedUsers = append(stored.BlockedUsers, userID)
		}
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	filePath := filepath.Join(r.dataDir, deviceDataFile)
	tempFile := filePath + ".tmp"

	// Write to temp file first, then rename for atomicity
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempFile, filePath)
}
