// cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	// Skip config loading so version works with a broken config file.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sbrealtime version %s\n", Version)
		if BuildTime != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildTime)
		}
		if GitCommit != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
