package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/gpuslot/internal/config"
)

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config",
	Short: "Print an annotated job file",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
	},
}

func init() {
	rootCmd.AddCommand(exampleConfigCmd)
}
