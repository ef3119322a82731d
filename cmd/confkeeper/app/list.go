package app

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [vendor]",
	Short: "List known backups, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func runList(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vendorFilter := ""
	if len(args) == 1 {
		vendorFilter = args[0]
	}
	records, err := buildStore(cfg).ListBackups(vendorFilter)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Vendor", "Created", "Size", "Files", "Archive")
	for _, r := range records {
		err := table.Append(
			r.VendorID,
			humanize.Time(r.Timestamp),
			humanize.Bytes(uint64(r.SizeBytes)),
			fmt.Sprintf("%d", r.FileCount),
			r.ArchivePath,
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}
