// Package backup implements archive creation, retention, verification and
// deletion for vendor configuration snapshots.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/confkeeper/confkeeper/internal/archive"
	"github.com/confkeeper/confkeeper/internal/manifest"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

// ProgressFunc receives human-readable progress updates during long
// operations. It may be nil.
type ProgressFunc func(message string)

func report(progress ProgressFunc, message string) {
	if progress != nil {
		progress(message)
	}
}

// Outcome is the result of a single backup operation.
type Outcome struct {
	Success         bool
	Record          *manifest.Record
	ErrorMessage    string
	DurationSeconds float64
}

// Summary aggregates the results of backing up several vendors.
type Summary struct {
	Total           int
	Successful      int
	Failed          int
	TotalSizeBytes  int64
	DurationSeconds float64
}

// Store creates and manages timestamped configuration archives under a
// backup root, one directory per vendor.
type Store struct {
	root      string
	retention int
	manifests *manifest.Store
}

// NewStore creates a backup store. A retention count of zero or less falls
// back to the default of keeping ten archives per vendor.
func NewStore(root string, retention int) *Store {
	if retention <= 0 {
		retention = 10
	}
	return &Store{
		root:      root,
		retention: retention,
		manifests: manifest.NewStore(root),
	}
}

// Root returns the backup root directory.
func (s *Store) Root() string { return s.root }

// BackupVendor archives the collaborator's configuration tree, records it
// in the vendor's manifest and enforces retention. It never returns an
// error; failures are reported through the outcome.
func (s *Store) BackupVendor(ctx context.Context, c vendors.Collaborator, progress ProgressFunc) Outcome {
	start := time.Now()
	fail := func(format string, args ...any) Outcome {
		msg := fmt.Sprintf(format, args...)
		slog.Error("backup failed", "vendor", c.VendorID(), "error", msg)
		return Outcome{ErrorMessage: msg, DurationSeconds: time.Since(start).Seconds()}
	}

	if !c.IsInstalled() {
		return fail("vendor %q is not installed", c.VendorID())
	}

	vendorDir := s.manifests.VendorDir(c.VendorID())
	if err := os.MkdirAll(vendorDir, 0o750); err != nil {
		return fail("failed to create backup directory: %v", err)
	}

	report(progress, fmt.Sprintf("archiving %s configuration", c.VendorID()))
	archivePath, err := c.Backup(ctx, vendorDir)
	if err != nil {
		return fail("failed to create archive: %v", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fail("failed to stat archive: %v", err)
	}
	checksum, err := archive.Checksum(archivePath)
	if err != nil {
		return fail("failed to checksum archive: %v", err)
	}
	fileCount, err := archive.CountFiles(archivePath)
	if err != nil {
		return fail("failed to inspect archive: %v", err)
	}

	record := manifest.Record{
		VendorID:        c.VendorID(),
		Timestamp:       time.Now().UTC(),
		ArchivePath:     archivePath,
		SizeBytes:       info.Size(),
		Checksum:        checksum.String(),
		FileCount:       fileCount,
		SourceConfigDir: c.ConfigDir(),
	}
	err = s.manifests.Update(c.VendorID(), func(records []manifest.Record) ([]manifest.Record, error) {
		records = append(records, record)
		return s.prune(records), nil
	})
	if err != nil {
		return fail("failed to update manifest: %v", err)
	}

	report(progress, fmt.Sprintf("backed up %d files (%d bytes)", fileCount, info.Size()))
	slog.Info("backup complete",
		"vendor", c.VendorID(), "archive", archivePath, "files", fileCount, "bytes", info.Size())
	return Outcome{
		Success:         true,
		Record:          &record,
		DurationSeconds: time.Since(start).Seconds(),
	}
}

// prune keeps the newest retention records, removing the archive files of
// everything older. A file still referenced by a retained record is never
// removed. The returned slice is ordered newest first.
func (s *Store) prune(records []manifest.Record) []manifest.Record {
	manifest.SortNewestFirst(records)
	if len(records) <= s.retention {
		return records
	}
	kept := records[:s.retention]
	retained := make(map[string]struct{}, len(kept))
	for _, r := range kept {
		retained[r.ArchivePath] = struct{}{}
	}
	for _, old := range records[s.retention:] {
		if _, ok := retained[old.ArchivePath]; ok {
			continue
		}
		if err := os.Remove(old.ArchivePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove pruned archive", "path", old.ArchivePath, "error", err)
		}
	}
	return kept
}

// BackupAll backs up every collaborator sequentially, continuing past
// individual failures.
func (s *Store) BackupAll(ctx context.Context, collaborators []vendors.Collaborator, progress ProgressFunc) Summary {
	start := time.Now()
	summary := Summary{Total: len(collaborators)}
	for _, c := range collaborators {
		outcome := s.BackupVendor(ctx, c, progress)
		if outcome.Success {
			summary.Successful++
			summary.TotalSizeBytes += outcome.Record.SizeBytes
		} else {
			summary.Failed++
		}
	}
	summary.DurationSeconds = time.Since(start).Seconds()
	return summary
}

// ListBackups returns known archives newest first, optionally filtered by
// vendor id. Records whose archive file no longer exists are dropped, not
// repaired.
func (s *Store) ListBackups(vendorFilter string) ([]manifest.Record, error) {
	var vendorIDs []string
	if vendorFilter != "" {
		vendorIDs = []string{vendorFilter}
	} else {
		ids, err := s.manifests.Vendors()
		if err != nil {
			return nil, err
		}
		vendorIDs = ids
	}

	var all []manifest.Record
	for _, id := range vendorIDs {
		records, err := s.manifests.Load(id)
		if err != nil {
			slog.Warn("skipping unreadable manifest", "vendor", id, "error", err)
			continue
		}
		for _, r := range records {
			if _, err := os.Stat(r.ArchivePath); err != nil {
				continue
			}
			all = append(all, r)
		}
	}
	manifest.SortNewestFirst(all)
	return all, nil
}

// LatestBackup returns the newest archive record for vendorID, or nil when
// none exists.
func (s *Store) LatestBackup(vendorID string) (*manifest.Record, error) {
	records, err := s.ListBackups(vendorID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// VerifyBackup checks that the archive at path exists, is well formed, is
// non-empty, and still matches the checksum recorded at backup time.
func (s *Store) VerifyBackup(path string) (bool, string) {
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Sprintf("backup file does not exist: %s", path)
	}

	switch err := archive.Validate(path); {
	case errors.Is(err, archive.ErrEmpty):
		return false, "archive is empty"
	case errors.Is(err, archive.ErrCorrupt):
		return false, fmt.Sprintf("invalid archive: %v", err)
	case err != nil:
		return false, fmt.Sprintf("failed to read archive: %v", err)
	}

	if record := manifest.FindByArchivePath(path); record != nil && record.Checksum != "" {
		checksum, err := archive.Checksum(path)
		if err != nil {
			return false, fmt.Sprintf("failed to checksum archive: %v", err)
		}
		if checksum.String() != record.Checksum {
			return false, "checksum mismatch: archive is corrupted"
		}
	}

	fileCount, err := archive.CountFiles(path)
	if err != nil {
		return false, fmt.Sprintf("failed to inspect archive: %v", err)
	}
	return true, fmt.Sprintf("archive is valid (%d files)", fileCount)
}

// DeleteBackup removes the archive at path and its manifest entry. It
// returns false when the file did not exist. A missing or corrupt
// manifest is tolerated.
func (s *Store) DeleteBackup(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("failed to remove archive", "path", path, "error", err)
		return false
	}
	if err := manifest.RemoveByArchivePath(path); err != nil {
		slog.Warn("failed to update manifest after delete", "path", path, "error", err)
	}
	slog.Info("backup deleted", "path", path, "vendor", filepath.Base(filepath.Dir(path)))
	return true
}
