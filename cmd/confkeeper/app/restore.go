package app

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/confkeeper/confkeeper/internal/backup"
	"github.com/confkeeper/confkeeper/internal/restore"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <vendor> [archive-path]",
	Short: "Restore a vendor's configuration from a backup",
	Long: `Restore a vendor's configuration directory from a backup archive.
Without an archive path the newest backup is used. By default the whole
configuration tree is replaced after taking a safety snapshot of the
current state; --dirs restores only the named top-level directories,
merging them into the existing tree.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestore,
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <vendor> [archive-path]",
	Short: "Restore a vendor's configuration without taking a safety snapshot",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRollback,
}

func init() {
	restoreCmd.Flags().Bool("no-backup", false, "Skip the pre-restore safety snapshot")
	restoreCmd.Flags().StringSlice("dirs", nil, "Restore only these top-level directories, merging into the existing tree")
	restoreCmd.Flags().Bool("preview", false, "Show what would be restored without changing anything")
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := findCollaborator(cfg, args[0])
	if err != nil {
		return err
	}
	store := buildStore(cfg)
	archivePath, err := resolveArchive(store, c.VendorID(), args)
	if err != nil {
		return err
	}
	engine := restore.NewEngine(store)

	if preview, _ := cmd.Flags().GetBool("preview"); preview {
		return printRestorePreview(engine, archivePath, c)
	}

	noBackup, _ := cmd.Flags().GetBool("no-backup")
	dirs, _ := cmd.Flags().GetStringSlice("dirs")

	var outcome restore.Outcome
	if len(dirs) > 0 {
		outcome = engine.RestoreSelective(cmd.Context(), archivePath, c, dirs, printProgress)
	} else {
		outcome = engine.RestoreVendor(cmd.Context(), archivePath, c, !noBackup, printProgress)
	}
	return reportRestore(c, outcome)
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := findCollaborator(cfg, args[0])
	if err != nil {
		return err
	}
	store := buildStore(cfg)
	archivePath, err := resolveArchive(store, c.VendorID(), args)
	if err != nil {
		return err
	}

	outcome := restore.NewEngine(store).Rollback(cmd.Context(), archivePath, c, printProgress)
	return reportRestore(c, outcome)
}

// resolveArchive picks the archive named on the command line, or the
// vendor's newest backup when none was given.
func resolveArchive(store *backup.Store, vendorID string, args []string) (string, error) {
	if len(args) == 2 {
		return args[1], nil
	}
	latest, err := store.LatestBackup(vendorID)
	if err != nil {
		return "", fmt.Errorf("failed to look up backups for %s: %w", vendorID, err)
	}
	if latest == nil {
		return "", fmt.Errorf("no backups found for %s", vendorID)
	}
	return latest.ArchivePath, nil
}

func printRestorePreview(engine *restore.Engine, archivePath string, c vendors.Collaborator) error {
	preview := engine.PreviewRestore(archivePath, c)
	if preview == nil {
		return fmt.Errorf("cannot preview %s: archive is missing or invalid", archivePath)
	}

	fmt.Printf("Restoring %s from %s (created %s) would:\n",
		preview.VendorID, archivePath, humanize.Time(preview.ArchiveTimestamp))
	fmt.Printf("  restore %d files (%s)\n",
		len(preview.FilesToRestore), humanize.Bytes(uint64(preview.EstimatedSizeBytes)))
	fmt.Printf("  overwrite %d existing files\n", len(preview.FilesToOverwrite))
	for _, dir := range preview.DirectoriesToCreate {
		fmt.Printf("  create directory %s/\n", dir)
	}

	if dirs := engine.RestorableDirectories(archivePath, c); len(dirs) > 0 {
		fmt.Printf("Directories available for --dirs: %v\n", dirs)
	}
	return nil
}

func reportRestore(c vendors.Collaborator, outcome restore.Outcome) error {
	if !outcome.Success {
		return fmt.Errorf("restore of %s failed: %s", c.VendorID(), outcome.ErrorMessage)
	}
	fmt.Printf("Restored %d files to %s in %.1fs\n",
		outcome.RestoredFileCount, c.ConfigDir(), outcome.DurationSeconds)
	if outcome.PreRestoreArchivePath != "" {
		fmt.Printf("Pre-restore snapshot: %s\n", outcome.PreRestoreArchivePath)
	}
	return nil
}
