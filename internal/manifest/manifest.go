// Package manifest persists the per-vendor index of configuration
// archives. Each vendor's backup directory holds a manifest.json next to
// the archives it describes; writes go through a temporary file and an
// atomic rename, guarded by a per-directory advisory lock.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

const (
	// FileName is the name of the manifest file inside a vendor's backup
	// directory.
	FileName = "manifest.json"

	lockFileName = ".manifest.lock"
)

// Record describes one archive known to the store. Records are immutable
// once created; they are only ever appended, pruned or removed.
type Record struct {
	VendorID        string    `json:"vendorId"`
	Timestamp       time.Time `json:"timestamp"`
	ArchivePath     string    `json:"archivePath"`
	SizeBytes       int64     `json:"sizeBytes"`
	Checksum        string    `json:"checksum"`
	FileCount       int       `json:"fileCount"`
	SourceConfigDir string    `json:"sourceConfigDir"`
}

// Store reads and writes vendor manifests under a backup root. The root
// contains one directory per vendor id.
type Store struct {
	root string
}

// NewStore creates a manifest store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// VendorDir returns the backup directory for vendorID.
func (s *Store) VendorDir(vendorID string) string {
	return filepath.Join(s.root, vendorID)
}

// Vendors lists the vendor ids that have a backup directory under the
// root. A missing root yields an empty list.
func (s *Store) Vendors() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Load returns the records for vendorID. A missing manifest yields an
// empty list.
func (s *Store) Load(vendorID string) ([]Record, error) {
	return LoadDir(s.VendorDir(vendorID))
}

// Update applies fn to the vendor's records under an advisory file lock
// and persists the result atomically.
func (s *Store) Update(vendorID string, fn func([]Record) ([]Record, error)) error {
	return UpdateDir(s.VendorDir(vendorID), fn)
}

// LoadDir reads the manifest in dir. A missing manifest yields an empty
// list; a malformed one is an error.
func LoadDir(dir string) ([]Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return records, nil
}

// SaveDir writes records to the manifest in dir via a temporary file and
// an atomic rename.
func SaveDir(dir string, records []Record) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	manifestPath := filepath.Join(dir, FileName)
	tmpPath := manifestPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary manifest: %w", err)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// UpdateDir applies fn to the records in dir under an advisory file lock
// and persists the result atomically. Manifest reads and writes elsewhere
// in the process go through the same lock file, so concurrent updates for
// one vendor serialize instead of losing entries.
func UpdateDir(dir string, fn func([]Record) ([]Record, error)) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	records, err := LoadDir(dir)
	if err != nil {
		return err
	}
	updated, err := fn(records)
	if err != nil {
		return err
	}
	return SaveDir(dir, updated)
}

// FindByArchivePath returns the record describing archivePath, located via
// the manifest next to the archive, or nil when no such record exists or
// the manifest is unreadable.
func FindByArchivePath(archivePath string) *Record {
	records, err := LoadDir(filepath.Dir(archivePath))
	if err != nil {
		return nil
	}
	for i := range records {
		if records[i].ArchivePath == archivePath {
			return &records[i]
		}
	}
	return nil
}

// RemoveByArchivePath deletes the record describing archivePath from the
// manifest next to it.
func RemoveByArchivePath(archivePath string) error {
	return UpdateDir(filepath.Dir(archivePath), func(records []Record) ([]Record, error) {
		kept := records[:0]
		for _, r := range records {
			if r.ArchivePath != archivePath {
				kept = append(kept, r)
			}
		}
		return kept, nil
	})
}

// SortNewestFirst orders records by descending timestamp.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
