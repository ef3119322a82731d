package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <archive-path>",
	Short: "Verify a backup archive's integrity",
	Long: `Verify that a backup archive exists, is a well formed non-empty
archive, and still matches the checksum recorded when it was created.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <archive-path>",
	Short: "Delete a backup archive and its manifest entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func runVerify(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ok, detail := buildStore(cfg).VerifyBackup(args[0])
	if !ok {
		return fmt.Errorf("verification failed: %s", detail)
	}
	fmt.Println(detail)
	return nil
}

func runDelete(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if !buildStore(cfg).DeleteBackup(args[0]) {
		return fmt.Errorf("no backup found at %s", args[0])
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}
