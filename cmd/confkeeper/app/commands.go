// Package app provides the entry point for the confkeeper command.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/confkeeper/confkeeper/internal/backup"
	"github.com/confkeeper/confkeeper/internal/config"
	"github.com/confkeeper/confkeeper/internal/vendors"
)

var rootCmd = &cobra.Command{
	Use:               "confkeeper",
	DisableAutoGenTag: true,
	Short:             "Backup, restore and sync AI coding assistant configurations",
	Long: `confkeeper archives the configuration directories of AI coding
assistants (Claude, Codex, Gemini and others), restores them from
backups and synchronizes shareable parts of them against a git
repository.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if viper.GetBool("debug") {
			slog.SetLogLoggerLevel(slog.LevelDebug)
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for confkeeper.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (defaults to the XDG config dir)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(backupAllCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		version := "unknown"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Println("confkeeper", version)
	},
}

// loadConfig reads the configuration named by --config, falling back to
// the default location and then to built-in defaults.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"))
}

func buildStore(cfg *config.Config) *backup.Store {
	return backup.NewStore(cfg.BackupRoot, cfg.RetentionCount)
}

// findCollaborator resolves a vendor id against the configuration.
func findCollaborator(cfg *config.Config, vendorID string) (vendors.Collaborator, error) {
	v, ok := cfg.Vendor(vendorID)
	if !ok {
		return nil, fmt.Errorf("unknown vendor %q (configured: %v)", vendorID, cfg.VendorIDs())
	}
	return vendors.NewDirVendor(v.ID, v.ConfigDir), nil
}

// printProgress writes backup and restore progress messages to stdout.
func printProgress(message string) {
	fmt.Println(message)
}
