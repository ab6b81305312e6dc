package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Repository defines the interface for device persistence. This
// abstraction allows the registry's cache/locking logic to be tested
// against an in-memory fake without touching disk.
type Repository interface {
	// List retrieves every persisted device.
	List(ctx context.Context) ([]Device, error)

	// GetByID retrieves a device by its dev_id. Returns ErrDeviceNotFound
	// if the device does not exist.
	GetByID(ctx context.Context, devID string) (*Device, error)

	// Save inserts or replaces a device record.
	Save(ctx context.Context, d *Device) error

	// Delete removes a device record. Returns ErrDeviceNotFound if the
	// device does not exist.
	Delete(ctx context.Context, devID string) error
}

// JSONFileRepository persists devices as a single JSON document keyed by
// dev_id, guarded by a mutex and written atomically (temp file, fsync,
// rename) so a crash mid-write cannot corrupt the file readers see.
type JSONFileRepository struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileRepository creates a repository backed by the JSON file at
// path. The file is created on first Save if it does not already exist.
func NewJSONFileRepository(path string) *JSONFileRepository {
	return &JSONFileRepository{path: path}
}

func (r *JSONFileRepository) load() (map[string]Device, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Device{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return map[string]Device{}, nil
	}

	var devices map[string]Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", r.path, err)
	}
	return devices, nil
}

// save writes devices to disk atomically: encode to a temp file in the
// same directory, fsync it, then rename over the target path. The rename
// is atomic on POSIX filesystems, so readers never observe a partially
// written file.
func (r *JSONFileRepository) save(devices map[string]Device) error {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding devices: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".devices-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	return nil
}

// List retrieves every persisted device.
func (r *JSONFileRepository) List(ctx context.Context) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.load()
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, d)
	}
	return out, nil
}

// GetByID retrieves a device by dev_id.
func (r *JSONFileRepository) GetByID(ctx context.Context, devID string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.load()
	if err != nil {
		return nil, err
	}

	d, ok := devices[devID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return &d, nil
}

// Save inserts or replaces a device record.
func (r *JSONFileRepository) Save(ctx context.Context, d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.load()
	if err != nil {
		return err
	}

	devices[d.DevID] = *d
	return r.save(devices)
}

// Delete removes a device record.
func (r *JSONFileRepository) Delete(ctx context.Context, devID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.load()
	if err != nil {
		return err
	}

	if _, ok := devices[devID]; !ok {
		return ErrDeviceNotFound
	}
	delete(devices, devID)
	return r.save(devices)
}
