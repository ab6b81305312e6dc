package scanner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ScanFile persists discovered records to local_scan.json, merging new
// entries in without ever overwriting a previously recorded IP.
type ScanFile struct {
	path string
	mu   sync.Mutex
}

// NewScanFile builds a ScanFile backed by the given path.
func NewScanFile(path string) *ScanFile {
	return &ScanFile{path: path}
}

func (f *ScanFile) load() (map[string]Record, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return map[string]Record{}, nil
	}

	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return records, nil
}

func (f *ScanFile) save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding scan file: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".local_scan-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

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
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

// Merge writes new into the scan file, keeping any pre-existing key's
// value untouched.
func (f *ScanFile) Merge(newRecords map[string]Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.load()
	if err != nil {
		return err
	}

	for ip, rec := range newRecords {
		if _, ok := existing[ip]; !ok {
			existing[ip] = rec
		}
	}

	return f.save(existing)
}

// All returns every persisted record.
func (f *ScanFile) All() (map[string]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}
