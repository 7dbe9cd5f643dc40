// cmd/history.go
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/markb/sbrealtime/internal/log"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show entries from the local log database",
	Long: `Reads the log database written with --log-mode database, newest first.
Useful for reviewing reconnects and errors of earlier listen sessions.`,
	Example: `  sbrealtime history --topic room:1 --since 1h
  sbrealtime history --level warn --limit 20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newPrinter(cmd.OutOrStdout(), cfg.Output)
		if err != nil {
			return err
		}

		q := log.Query{}
		q.Topic, _ = cmd.Flags().GetString("topic")
		q.Level, _ = cmd.Flags().GetString("level")
		q.Limit, _ = cmd.Flags().GetInt("limit")
		if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
			q.Since = time.Now().Add(-since)
		}

		if _, err := os.Stat(cfg.Log.DB); os.IsNotExist(err) {
			return fmt.Errorf("log database not found at %s. Run with --log-mode database first", cfg.Log.DB)
		}

		entries, err := log.ReadEntries(cmd.Context(), cfg.Log.DB, q)
		if err != nil {
			return fmt.Errorf("failed to read log database: %w", err)
		}
		for _, e := range entries {
			out.Value("log", e.Level, e)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("topic", "", "Only entries for this topic")
	historyCmd.Flags().String("level", "", "Minimum level: debug, info, warn or error")
	historyCmd.Flags().Duration("since", 0, "Only entries newer than this, e.g. 1h")
	historyCmd.Flags().Int("limit", 100, "Maximum number of entries")
}
