// Package restore previews and applies configuration restores from
// backup archives, including selective restores and rollbacks.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/confkeeper/confkeeper/internal/archive"
	"github.com/confkeeper/confkeeper/internal/backup"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

// Preview describes what a restore from a given archive would do. It is
// computed on demand and never persisted.
type Preview struct {
	VendorID            string
	ArchiveTimestamp    time.Time
	FilesToRestore      []string
	FilesToOverwrite    []string
	DirectoriesToCreate []string
	EstimatedSizeBytes  int64
}

// Outcome is the result of a restore operation.
type Outcome struct {
	Success               bool
	RestoredFileCount     int
	PreRestoreArchivePath string
	ErrorMessage          string
	DurationSeconds       float64
}

// Engine restores vendor configurations from archives. The backup store is
// optional; without it no pre-restore snapshots are taken.
type Engine struct {
	backups *backup.Store
}

// NewEngine creates a restore engine.
func NewEngine(backups *backup.Store) *Engine {
	return &Engine{backups: backups}
}

// PreviewRestore describes what restoring archivePath into the
// collaborator's configuration directory would do. It returns nil when the
// archive is missing or malformed.
func (*Engine) PreviewRestore(archivePath string, c vendors.Collaborator) *Preview {
	members, err := archive.List(archivePath)
	if err != nil {
		slog.Debug("restore preview unavailable", "archive", archivePath, "error", err)
		return nil
	}

	preview := &Preview{
		VendorID:         c.VendorID(),
		ArchiveTimestamp: archiveTimestamp(archivePath),
	}
	topLevel := vendorTopLevel(members, c.VendorID())
	newDirs := make(map[string]struct{})

	for _, m := range members {
		rel := configRelative(m.Path, topLevel)
		if rel == "" {
			continue
		}
		if m.IsRegular() {
			preview.FilesToRestore = append(preview.FilesToRestore, rel)
			preview.EstimatedSizeBytes += m.Size
			if _, err := os.Stat(filepath.Join(c.ConfigDir(), filepath.FromSlash(rel))); err == nil {
				preview.FilesToOverwrite = append(preview.FilesToOverwrite, rel)
			}
		}
		if top, _, nested := strings.Cut(rel, "/"); nested {
			if _, err := os.Stat(filepath.Join(c.ConfigDir(), top)); err != nil {
				newDirs[top] = struct{}{}
			}
		}
	}
	for dir := range newDirs {
		preview.DirectoriesToCreate = append(preview.DirectoriesToCreate, dir)
	}
	sort.Strings(preview.DirectoriesToCreate)
	return preview
}

// RestoreVendor replaces the collaborator's whole configuration tree from
// archivePath, optionally snapshotting the current state first.
func (e *Engine) RestoreVendor(
	ctx context.Context, archivePath string, c vendors.Collaborator,
	createPreRestoreBackup bool, progress backup.ProgressFunc,
) Outcome {
	return e.restore(ctx, archivePath, c, createPreRestoreBackup, progress)
}

// Rollback is RestoreVendor without a pre-restore snapshot: undoing a bad
// restore should not itself be checkpointed.
func (e *Engine) Rollback(
	ctx context.Context, archivePath string, c vendors.Collaborator, progress backup.ProgressFunc,
) Outcome {
	return e.restore(ctx, archivePath, c, false, progress)
}

func (e *Engine) restore(
	ctx context.Context, archivePath string, c vendors.Collaborator,
	createPreRestoreBackup bool, progress backup.ProgressFunc,
) Outcome {
	start := time.Now()
	fail := func(format string, args ...any) Outcome {
		msg := fmt.Sprintf(format, args...)
		slog.Error("restore failed", "vendor", c.VendorID(), "archive", archivePath, "error", msg)
		return Outcome{ErrorMessage: msg, DurationSeconds: time.Since(start).Seconds()}
	}

	if _, err := os.Stat(archivePath); err != nil {
		return fail("backup archive not found: %s", archivePath)
	}

	outcome := Outcome{}
	if createPreRestoreBackup && e.backups != nil && c.IsInstalled() {
		report(progress, "creating pre-restore backup")
		pre := e.backups.BackupVendor(ctx, c, progress)
		if pre.Success {
			outcome.PreRestoreArchivePath = pre.Record.ArchivePath
		} else {
			slog.Warn("pre-restore backup failed, continuing",
				"vendor", c.VendorID(), "error", pre.ErrorMessage)
		}
	}

	fileCount, err := archive.CountFiles(archivePath)
	if err != nil {
		return fail("invalid archive: %v", err)
	}

	report(progress, fmt.Sprintf("restoring %s configuration", c.VendorID()))
	if err := c.Restore(ctx, archivePath); err != nil {
		return fail("restore failed: %v", err)
	}

	outcome.Success = true
	outcome.RestoredFileCount = fileCount
	outcome.DurationSeconds = time.Since(start).Seconds()
	slog.Info("restore complete", "vendor", c.VendorID(), "archive", archivePath, "files", fileCount)
	return outcome
}

// RestoreSelective restores only the named top-level directories from the
// archive, merging them into the existing configuration directory rather
// than replacing it. Requesting directories absent from the archive is not
// an error; it restores zero files.
func (*Engine) RestoreSelective(
	_ context.Context, archivePath string, c vendors.Collaborator,
	directories []string, progress backup.ProgressFunc,
) Outcome {
	start := time.Now()
	fail := func(format string, args ...any) Outcome {
		msg := fmt.Sprintf(format, args...)
		slog.Error("selective restore failed", "vendor", c.VendorID(), "archive", archivePath, "error", msg)
		return Outcome{ErrorMessage: msg, DurationSeconds: time.Since(start).Seconds()}
	}

	if _, err := os.Stat(archivePath); err != nil {
		return fail("backup archive not found: %s", archivePath)
	}
	members, err := archive.List(archivePath)
	if err != nil {
		return fail("invalid archive: %v", err)
	}
	if len(members) == 0 {
		return fail("archive is empty")
	}

	want := make(map[string]struct{}, len(directories))
	for _, d := range directories {
		want[d] = struct{}{}
	}
	topLevel := vendorTopLevel(members, c.VendorID())

	var selected []string
	for _, m := range members {
		if !m.IsRegular() {
			continue
		}
		rel := configRelative(m.Path, topLevel)
		if top, _, nested := strings.Cut(rel, "/"); nested {
			if _, ok := want[top]; ok {
				selected = append(selected, m.Path)
			}
		}
	}
	if len(selected) == 0 {
		return Outcome{Success: true, DurationSeconds: time.Since(start).Seconds()}
	}

	scratch, err := os.MkdirTemp("", "confkeeper-restore-"+c.VendorID()+"-")
	if err != nil {
		return fail("failed to create staging directory: %v", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	report(progress, fmt.Sprintf("restoring %d files into %s", len(selected), c.ConfigDir()))
	extracted, err := archive.UnpackMembersSecurely(archivePath, scratch, selected)
	if err != nil {
		return fail("restore aborted: %v", err)
	}

	restored := 0
	for _, rel := range extracted {
		src := filepath.Join(scratch, filepath.FromSlash(rel))
		dst := filepath.Join(c.ConfigDir(), filepath.FromSlash(configRelative(rel, topLevel)))
		if err := moveFile(src, dst); err != nil {
			return fail("failed to place %s: %v", rel, err)
		}
		restored++
	}

	slog.Info("selective restore complete",
		"vendor", c.VendorID(), "archive", archivePath, "files", restored, "directories", directories)
	return Outcome{
		Success:           true,
		RestoredFileCount: restored,
		DurationSeconds:   time.Since(start).Seconds(),
	}
}

// RestorableDirectories returns the distinct top-level directories that
// contain file members in the archive, as RestoreSelective would select
// them for the collaborator. A missing, invalid or empty archive yields an
// empty list.
func (*Engine) RestorableDirectories(archivePath string, c vendors.Collaborator) []string {
	members, err := archive.List(archivePath)
	if err != nil {
		return nil
	}
	topLevel := vendorTopLevel(members, c.VendorID())

	seen := make(map[string]struct{})
	for _, m := range members {
		if !m.IsRegular() {
			continue
		}
		rel := configRelative(m.Path, topLevel)
		if top, _, nested := strings.Cut(rel, "/"); nested {
			seen[top] = struct{}{}
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// vendorTopLevel returns the archive's shared top-level directory when it
// matches the vendor id, the layout produced by Collaborator.Backup.
func vendorTopLevel(members []archive.Member, vendorID string) string {
	if top := archive.TopLevelDir(members); top == vendorID {
		return top
	}
	return ""
}

// configRelative strips the vendor top-level directory from a member path,
// yielding a path relative to the configuration directory.
func configRelative(memberPath, topLevel string) string {
	rel := strings.Trim(filepath.ToSlash(memberPath), "/")
	if topLevel == "" {
		return rel
	}
	if rel == topLevel {
		return ""
	}
	return strings.TrimPrefix(rel, topLevel+"/")
}

// archiveTimestamp recovers the creation time from the archive file name,
// falling back to the file's modification time. Names may carry a numeric
// collision suffix after the timestamp.
func archiveTimestamp(archivePath string) time.Time {
	name := strings.TrimSuffix(filepath.Base(archivePath), ".tar.gz")
	for {
		i := strings.LastIndex(name, "-")
		if i < 0 {
			break
		}
		if ts, err := time.Parse(vendors.TimestampLayout, name[i+1:]); err == nil {
			return ts
		}
		name = name[:i]
	}
	if info, err := os.Stat(archivePath); err == nil {
		return info.ModTime().UTC()
	}
	return time.Time{}
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename can fail across filesystems; fall back to a copy.
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func report(progress backup.ProgressFunc, message string) {
	if progress != nil {
		progress(message)
	}
}
