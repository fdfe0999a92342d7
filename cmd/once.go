package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kilianp07/batteryctl/config"
)

var onceDryRun bool

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single control cycle and print its report as JSON",
	RunE:  runOnce,
}

func init() {
	onceCmd.Flags().BoolVar(&onceDryRun, "dry-run", false, "compute decisions without sending commands")
	rootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, err := loadService(func(c *config.Config) {
		if onceDryRun {
			c.Control.DryRun = true
		}
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	rep := svc.RunOnce(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
