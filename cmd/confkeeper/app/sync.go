package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confkeeper/confkeeper/internal/gitsync"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

var syncCmd = &cobra.Command{
	Use:   "sync <repo-url> [vendor]",
	Short: "Sync vendor configurations from a git repository",
	Long: `Clone a repository shallowly and reconcile each vendor's eligible
configuration paths against it. Only the directories and files named in
the vendor's sync policy are ever touched. A pre-sync backup is taken by
default; --preview shows the pending changes without applying anything.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("branch", "", "Branch to sync from (defaults to the remote HEAD)")
	syncCmd.Flags().String("strategy", string(gitsync.StrategyMerge),
		"Merge strategy: replace, merge, keep-local or keep-remote")
	syncCmd.Flags().Bool("no-backup", false, "Skip the pre-sync safety snapshot")
	syncCmd.Flags().Bool("preview", false, "Show pending changes without applying anything")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repoURL := args[0]
	collaborators := vendors.FromConfig(cfg)
	if len(args) == 2 {
		c, err := findCollaborator(cfg, args[1])
		if err != nil {
			return err
		}
		collaborators = []vendors.Collaborator{c}
	}

	branch, _ := cmd.Flags().GetString("branch")
	strategyFlag, _ := cmd.Flags().GetString("strategy")
	strategy, err := gitsync.ParseStrategy(strategyFlag)
	if err != nil {
		return err
	}
	noBackup, _ := cmd.Flags().GetBool("no-backup")
	previewOnly, _ := cmd.Flags().GetBool("preview")

	engine := gitsync.NewEngine(nil, buildStore(cfg), cfg.Policies())

	if previewOnly {
		for _, c := range collaborators {
			printSyncPreview(engine.PreviewSync(cmd.Context(), repoURL, c, branch), c, repoURL)
		}
		return nil
	}

	outcomes := engine.SyncAll(cmd.Context(), repoURL, collaborators, branch, strategy, !noBackup, printProgress)
	failed := 0
	for _, o := range outcomes {
		if !o.Success {
			failed++
			fmt.Printf("%s: sync failed: %s\n", o.VendorID, o.ErrorMessage)
			continue
		}
		fmt.Printf("%s: %d files synced (%d added, %d modified, %d deleted)\n",
			o.VendorID, o.FilesSynced, o.FilesAdded, o.FilesModified, o.FilesDeleted)
		if o.PreSyncArchivePath != "" {
			fmt.Printf("%s: pre-sync snapshot: %s\n", o.VendorID, o.PreSyncArchivePath)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d vendor syncs failed", failed)
	}
	return nil
}

func printSyncPreview(preview *gitsync.Preview, c vendors.Collaborator, repoURL string) {
	if preview == nil {
		fmt.Printf("%s: preview unavailable (clone or comparison failed)\n", c.VendorID())
		return
	}
	fmt.Printf("%s: syncing from %s would add %d, modify %d files (%d local-only files)\n",
		preview.VendorID, repoURL,
		len(preview.FilesToAdd), len(preview.FilesToModify), len(preview.FilesToDelete))
	for _, f := range preview.FilesToAdd {
		fmt.Printf("  + %s\n", f)
	}
	for _, f := range preview.FilesToModify {
		fmt.Printf("  ~ %s\n", f)
	}
	for _, f := range preview.FilesToDelete {
		fmt.Printf("  local only: %s\n", f)
	}
}
