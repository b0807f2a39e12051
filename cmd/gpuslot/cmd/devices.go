package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/gpuslot/internal/device"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show which GPUs the scheduler would consider free",
	Long: `List every device with the compute processes bound to it, as the
scheduler's probe sees them. Processes are enriched with host metadata
(name, user, resident memory) when their PID is visible on this host.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := newDevices(ctx)
	if err != nil {
		return err
	}
	statuses, err := device.Describe(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to query devices: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("GPU", "Status", "PID", "Process", "User", "GPU Mem", "RSS")
	free := 0
	for _, st := range statuses {
		if st.Free {
			free++
			table.Append(strconv.Itoa(st.Index), "free", "", "", "", "", "")
			continue
		}
		for i, p := range st.Processes {
			idx, status := "", ""
			if i == 0 {
				idx, status = strconv.Itoa(st.Index), "busy"
			}
			rss := ""
			if p.OnHost {
				rss = fmt.Sprintf("%.0f MiB", float64(p.RSSBytes)/(1<<20))
			}
			table.Append(idx, status, strconv.Itoa(p.PID), p.Name, p.User,
				fmt.Sprintf("%.0f MiB", p.UsedMemoryMB), rss)
		}
	}
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d devices free\n", free, len(statuses))
	return nil
}
