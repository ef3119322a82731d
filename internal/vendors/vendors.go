// Package vendors defines the collaborator contract for tools whose
// configuration trees are archived, restored and synced, plus a default
// adapter for tools that keep their entire configuration in one directory.
package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/confkeeper/confkeeper/internal/archive"
	"github.com/confkeeper/confkeeper/internal/config"
)

// TimestampLayout is the timestamp format embedded in archive file names.
const TimestampLayout = "20060102T150405Z"

// Collaborator is the vendor-specific component that knows which files
// constitute its configuration and can create and consume archives of
// them.
type Collaborator interface {
	// VendorID returns the stable vendor identifier.
	VendorID() string

	// ConfigDir returns the live configuration directory.
	ConfigDir() string

	// IsInstalled reports whether the vendor's configuration exists on
	// this machine.
	IsInstalled() bool

	// Backup writes an archive of the configuration tree into destDir and
	// returns the path of the created archive. The archive contains a
	// single top-level directory named after the vendor id.
	Backup(ctx context.Context, destDir string) (string, error)

	// Restore replaces the live configuration tree from archivePath.
	// Implementations must extract to a temporary location first and swap
	// the result in atomically, and must succeed as a no-op when the
	// archive lacks the vendor's top-level directory.
	Restore(ctx context.Context, archivePath string) error
}

// DirVendor is a Collaborator for tools that keep their whole
// configuration under a single directory.
type DirVendor struct {
	id        string
	configDir string
}

var _ Collaborator = (*DirVendor)(nil)

// NewDirVendor creates a directory-backed collaborator.
func NewDirVendor(id, configDir string) *DirVendor {
	return &DirVendor{id: id, configDir: configDir}
}

// FromConfig builds a collaborator for every configured vendor.
func FromConfig(cfg *config.Config) []Collaborator {
	collaborators := make([]Collaborator, 0, len(cfg.Vendors))
	for _, v := range cfg.Vendors {
		collaborators = append(collaborators, NewDirVendor(v.ID, v.ConfigDir))
	}
	return collaborators
}

// VendorID returns the vendor identifier.
func (v *DirVendor) VendorID() string { return v.id }

// ConfigDir returns the live configuration directory.
func (v *DirVendor) ConfigDir() string { return v.configDir }

// IsInstalled reports whether the configuration directory exists.
func (v *DirVendor) IsInstalled() bool {
	info, err := os.Stat(v.configDir)
	return err == nil && info.IsDir()
}

// Backup archives the configuration directory into destDir. Archive names
// carry a second-resolution timestamp; when a backup lands on a name that
// already exists, a numeric suffix keeps it from overwriting the earlier
// archive.
func (v *DirVendor) Backup(_ context.Context, destDir string) (string, error) {
	base := fmt.Sprintf("%s-%s", v.id, time.Now().UTC().Format(TimestampLayout))
	archivePath := filepath.Join(destDir, base+".tar.gz")
	for n := 2; ; n++ {
		if _, err := os.Stat(archivePath); os.IsNotExist(err) {
			break
		}
		archivePath = filepath.Join(destDir, fmt.Sprintf("%s-%d.tar.gz", base, n))
	}
	if err := archive.Create(archivePath, v.configDir, v.id); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", v.configDir, err)
	}
	return archivePath, nil
}

// Restore replaces the configuration directory from archivePath. The
// archive is extracted with containment checks into a temporary sibling
// directory, then swapped in via renames. An archive without the vendor's
// top-level directory restores nothing and succeeds.
func (v *DirVendor) Restore(_ context.Context, archivePath string) error {
	if err := archive.Validate(archivePath); err != nil {
		return err
	}

	parent := filepath.Dir(v.configDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}
	scratch, err := os.MkdirTemp(parent, "."+v.id+"-restore-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	if _, err := archive.UnpackSecurely(archivePath, scratch); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}

	staged := filepath.Join(scratch, v.id)
	if _, err := os.Stat(staged); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("archive has no configuration for vendor, nothing restored",
				"vendor", v.id, "archive", archivePath)
			return nil
		}
		return err
	}

	displaced := ""
	if _, err := os.Stat(v.configDir); err == nil {
		displaced = fmt.Sprintf("%s.old-%d", v.configDir, time.Now().UnixNano())
		if err := os.Rename(v.configDir, displaced); err != nil {
			return fmt.Errorf("failed to move aside current configuration: %w", err)
		}
	}
	if err := os.Rename(staged, v.configDir); err != nil {
		if displaced != "" {
			_ = os.Rename(displaced, v.configDir)
		}
		return fmt.Errorf("failed to swap in restored configuration: %w", err)
	}
	if displaced != "" {
		_ = os.RemoveAll(displaced)
	}
	return nil
}
