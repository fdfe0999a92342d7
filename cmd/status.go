package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/batteryctl/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the meter and every device and print a table",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	svc, err := loadService(nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	readings, net, meterErr := svc.Snapshot(ctx)
	return printStatus(cmd.OutOrStdout(), readings, net, meterErr)
}

func printStatus(out io.Writer, readings []app.DeviceReading, net float64, meterErr error) error {
	if meterErr != nil {
		fmt.Fprintf(out, "grid: unavailable (%v)\n\n", meterErr)
	} else {
		fmt.Fprintf(out, "grid: %.0f W\n\n", net)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tMODE\tSOC\tPOWER\tLATENCY\tERROR")
	for _, r := range readings {
		soc, power, errText := "-", "-", ""
		if r.Err != nil {
			errText = r.Err.Error()
		} else {
			soc = fmt.Sprintf("%.0f%%", r.Status.ChargeLevel)
			power = fmt.Sprintf("%.0f W", r.Status.EffectivePower)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Status.ID, r.Status.Mode, soc, power, r.Latency.Round(time.Millisecond), errText)
	}
	return w.Flush()
}
