package scanner

import (
	"path/filepath"
	"testing"
)

func TestScanFileMergeDoesNotOverwriteExistingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local_scan.json")
	f := NewScanFile(path)

	if err := f.Merge(map[string]Record{
		"192.168.1.10": {ID: "dev-1", Name: "Original"},
	}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if err := f.Merge(map[string]Record{
		"192.168.1.10": {ID: "dev-1", Name: "Overwritten"},
		"192.168.1.11": {ID: "dev-2", Name: "New"},
	}); err != nil {
		t.Fatalf("second Merge: %v", err)
	}

	all, err := f.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %+v, want 2 entries", all)
	}
	if all["192.168.1.10"].Name != "Original" {
		t.Errorf("existing key was overwritten: %+v", all["192.168.1.10"])
	}
	if all["192.168.1.11"].Name != "New" {
		t.Errorf("new key missing: %+v", all["192.168.1.11"])
	}
}

func TestScanFileAllOnMissingFileReturnsEmpty(t *testing.T) {
	f := NewScanFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	all, err := f.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("all = %+v, want empty", all)
	}
}
