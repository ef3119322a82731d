package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/confkeeper/confkeeper/internal/backup"
	"github.com/confkeeper/confkeeper/internal/config"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

// Preview describes what a sync from a remote repository would do.
// Deletions are informational only; a preview never deletes. Every
// overwrite is also reported as a conflict, whether or not it represents
// divergent editing.
type Preview struct {
	VendorID      string
	RepoURL       string
	Branch        string
	FilesToAdd    []string
	FilesToModify []string
	FilesToDelete []string
	Conflicts     []string
}

// Outcome is the result of a sync operation.
type Outcome struct {
	VendorID           string
	Success            bool
	FilesSynced        int
	FilesAdded         int
	FilesModified      int
	FilesDeleted       int
	PreSyncArchivePath string
	ErrorMessage       string
	DurationSeconds    float64
}

// Engine synchronizes vendor configuration trees against remote git
// repositories. The backup store is optional; without it no pre-sync
// snapshots are taken.
type Engine struct {
	client   Client
	backups  *backup.Store
	policies map[string]config.SyncPolicy
}

// NewEngine creates a sync engine. A nil client falls back to the go-git
// based default. The policy table decides which paths are eligible for
// synchronization per vendor; vendors without an entry sync nothing.
func NewEngine(client Client, backups *backup.Store, policies map[string]config.SyncPolicy) *Engine {
	if client == nil {
		client = NewDefaultClient()
	}
	return &Engine{client: client, backups: backups, policies: policies}
}

// cloneScratch clones the repository into a fresh random-suffixed scratch
// directory. The caller must always invoke Cleanup on the returned
// repository.
func (e *Engine) cloneScratch(ctx context.Context, repoURL, branch, vendorID string) (*Repository, error) {
	scratch, err := os.MkdirTemp("", "confkeeper-sync-"+vendorID+"-")
	if err != nil {
		return nil, &Error{
			Err:     err,
			Message: fmt.Sprintf("failed to create scratch directory: %v", err),
			Reason:  ReasonScratchFailed,
		}
	}
	repo, err := e.client.Clone(ctx, CloneConfig{URL: repoURL, Branch: branch, Dir: scratch})
	if err != nil {
		_ = os.RemoveAll(scratch)
		return nil, &Error{
			Err:     err,
			Message: fmt.Sprintf("failed to clone %s: %v", repoURL, err),
			Reason:  ReasonCloneFailed,
		}
	}
	return repo, nil
}

// PreviewSync reports what syncing the collaborator against the remote
// repository would change. It returns nil when the clone fails or the
// comparison hits an unexpected error.
func (e *Engine) PreviewSync(ctx context.Context, repoURL string, c vendors.Collaborator, branch string) *Preview {
	repo, err := e.cloneScratch(ctx, repoURL, branch, c.VendorID())
	if err != nil {
		slog.Warn("sync preview unavailable", "vendor", c.VendorID(), "repo", repoURL, "error", err)
		return nil
	}
	defer repo.Cleanup()

	preview := &Preview{VendorID: c.VendorID(), RepoURL: repoURL, Branch: branch}
	policy := e.policies[c.VendorID()]

	for _, dir := range policy.Directories {
		err := previewDir(preview, dir, filepath.Join(repo.Dir, dir), filepath.Join(c.ConfigDir(), dir))
		if err != nil {
			slog.Warn("sync preview unavailable", "vendor", c.VendorID(), "directory", dir, "error", err)
			return nil
		}
	}
	for _, file := range policy.Files {
		err := previewFile(preview, file, filepath.Join(repo.Dir, file), filepath.Join(c.ConfigDir(), file))
		if err != nil {
			slog.Warn("sync preview unavailable", "vendor", c.VendorID(), "file", file, "error", err)
			return nil
		}
	}

	sort.Strings(preview.FilesToAdd)
	sort.Strings(preview.FilesToModify)
	sort.Strings(preview.FilesToDelete)
	sort.Strings(preview.Conflicts)
	return preview
}

func previewDir(preview *Preview, prefix, remoteDir, localDir string) error {
	if _, err := os.Stat(remoteDir); err == nil {
		err := filepath.WalkDir(remoteDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(remoteDir, p)
			if err != nil {
				return err
			}
			return previewFile(preview, path.Join(prefix, filepath.ToSlash(rel)), p, filepath.Join(localDir, rel))
		})
		if err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	// Locally present files absent from the remote are informational
	// deletion candidates.
	if _, err := os.Stat(localDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if _, err := os.Stat(filepath.Join(remoteDir, rel)); os.IsNotExist(err) {
			preview.FilesToDelete = append(preview.FilesToDelete, path.Join(prefix, filepath.ToSlash(rel)))
		}
		return nil
	})
}

func previewFile(preview *Preview, rel, remotePath, localPath string) error {
	remote, err := os.ReadFile(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	local, err := os.ReadFile(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			preview.FilesToAdd = append(preview.FilesToAdd, rel)
			return nil
		}
		return err
	}
	if string(local) != string(remote) {
		preview.FilesToModify = append(preview.FilesToModify, rel)
		preview.Conflicts = append(preview.Conflicts, rel)
	}
	return nil
}

// SyncVendor synchronizes the collaborator's eligible paths against the
// remote repository using the given merge strategy. The scratch clone is
// removed on every exit path.
func (e *Engine) SyncVendor(
	ctx context.Context, repoURL string, c vendors.Collaborator, branch string,
	strategy Strategy, createBackup bool, progress backup.ProgressFunc,
) Outcome {
	start := time.Now()
	fail := func(err error) Outcome {
		reason := ReasonApplyFailed
		var syncErr *Error
		if errors.As(err, &syncErr) {
			reason = syncErr.Reason
		}
		slog.Error("sync failed",
			"vendor", c.VendorID(), "repo", repoURL, "reason", reason, "error", err)
		return Outcome{
			VendorID:        c.VendorID(),
			ErrorMessage:    err.Error(),
			DurationSeconds: time.Since(start).Seconds(),
		}
	}

	repo, err := e.cloneScratch(ctx, repoURL, branch, c.VendorID())
	if err != nil {
		return fail(err)
	}
	defer repo.Cleanup()

	outcome := Outcome{VendorID: c.VendorID()}
	if createBackup && e.backups != nil && c.IsInstalled() {
		if progress != nil {
			progress("creating pre-sync backup")
		}
		pre := e.backups.BackupVendor(ctx, c, progress)
		if pre.Success {
			outcome.PreSyncArchivePath = pre.Record.ArchivePath
		} else {
			slog.Warn("pre-sync backup failed, continuing",
				"vendor", c.VendorID(), "error", pre.ErrorMessage)
		}
	}

	policy := e.policies[c.VendorID()]
	var total counters
	for _, dir := range policy.Directories {
		dirCounters, err := applyDir(strategy, filepath.Join(repo.Dir, dir), filepath.Join(c.ConfigDir(), dir))
		if err != nil {
			return fail(&Error{
				Err:     err,
				Message: fmt.Sprintf("failed to sync directory %s: %v", dir, err),
				Reason:  ReasonApplyFailed,
			})
		}
		total.add(dirCounters)
	}
	for _, file := range policy.Files {
		fileCounters, err := applyFile(strategy, filepath.Join(repo.Dir, file), filepath.Join(c.ConfigDir(), file))
		if err != nil {
			return fail(&Error{
				Err:     err,
				Message: fmt.Sprintf("failed to sync file %s: %v", file, err),
				Reason:  ReasonApplyFailed,
			})
		}
		total.add(fileCounters)
	}

	outcome.Success = true
	outcome.FilesAdded = total.added
	outcome.FilesModified = total.modified
	outcome.FilesDeleted = total.deleted
	outcome.FilesSynced = total.added + total.modified
	outcome.DurationSeconds = time.Since(start).Seconds()
	slog.Info("sync complete",
		"vendor", c.VendorID(), "repo", repoURL, "strategy", string(strategy),
		"added", total.added, "modified", total.modified, "deleted", total.deleted)
	return outcome
}

// SyncAll synchronizes every collaborator sequentially against the same
// repository, continuing past per-vendor failures.
func (e *Engine) SyncAll(
	ctx context.Context, repoURL string, collaborators []vendors.Collaborator, branch string,
	strategy Strategy, createBackup bool, progress backup.ProgressFunc,
) []Outcome {
	outcomes := make([]Outcome, 0, len(collaborators))
	for _, c := range collaborators {
		outcomes = append(outcomes, e.SyncVendor(ctx, repoURL, c, branch, strategy, createBackup, progress))
	}
	return outcomes
}
