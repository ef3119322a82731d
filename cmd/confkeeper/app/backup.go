package app

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/confkeeper/confkeeper/internal/vendors"
)

var backupCmd = &cobra.Command{
	Use:   "backup <vendor>",
	Short: "Back up one vendor's configuration",
	Long: `Back up one vendor's configuration directory into a timestamped
archive under the backup root, recording it in the vendor's manifest and
pruning archives beyond the retention count.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackup,
}

var backupAllCmd = &cobra.Command{
	Use:   "backup-all",
	Short: "Back up every configured vendor",
	Args:  cobra.NoArgs,
	RunE:  runBackupAll,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := findCollaborator(cfg, args[0])
	if err != nil {
		return err
	}

	outcome := buildStore(cfg).BackupVendor(cmd.Context(), c, printProgress)
	if !outcome.Success {
		return fmt.Errorf("backup of %s failed: %s", c.VendorID(), outcome.ErrorMessage)
	}
	fmt.Printf("Backed up %s to %s (%s, %d files)\n",
		c.VendorID(), outcome.Record.ArchivePath,
		humanize.Bytes(uint64(outcome.Record.SizeBytes)), outcome.Record.FileCount)
	return nil
}

func runBackupAll(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	summary := buildStore(cfg).BackupAll(cmd.Context(), vendors.FromConfig(cfg), printProgress)
	fmt.Printf("Backed up %d/%d vendors (%s) in %.1fs\n",
		summary.Successful, summary.Total,
		humanize.Bytes(uint64(summary.TotalSizeBytes)), summary.DurationSeconds)
	if summary.Failed > 0 {
		return fmt.Errorf("%d vendor backups failed", summary.Failed)
	}
	return nil
}
