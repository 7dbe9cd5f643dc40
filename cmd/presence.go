// cmd/presence.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/markb/sbrealtime/internal/realtime"
	"github.com/spf13/cobra"
)

var presenceCmd = &cobra.Command{
	Use:   "presence <topic>",
	Short: "Track presence on a channel and print who is online",
	Long: `Joins a channel, tracks this client with --state and prints the presence
state after every change until interrupted. Without --state the client only
watches.`,
	Example: `  sbrealtime presence room:1 --key alice --state '{"status":"online"}'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]
		out, err := newPrinter(cmd.OutOrStdout(), cfg.Output)
		if err != nil {
			return err
		}

		var state map[string]any
		if raw, _ := cmd.Flags().GetString("state"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &state); err != nil {
				return fmt.Errorf("invalid --state: %w", err)
			}
		}

		chCfg := cfg.channelConfig()
		chCfg.Presence.Key, _ = cmd.Flags().GetString("key")

		dir, err := newDirectory(cmd.Context())
		if err != nil {
			return err
		}
		defer dir.Close()

		ch := dir.Channel(topic, &chCfg)
		ch.On(realtime.KindPresence, realtime.Criteria{Event: realtime.EventAll}, func(ev realtime.Event) {
			out.Value("presence", ev.Type, ch.PresenceState())
		})

		var afterSubscribe func() error
		if state != nil {
			// Reconnects re-send tracked state on their own.
			afterSubscribe = func() error {
				if ch.Track(state) != realtime.StatusOK {
					return fmt.Errorf("track on %s failed", topic)
				}
				return nil
			}
		}
		return runChannel(cmd.Context(), ch, out, afterSubscribe)
	},
}

func init() {
	rootCmd.AddCommand(presenceCmd)
	presenceCmd.Flags().String("key", "", "Presence key (default: assigned by the server)")
	presenceCmd.Flags().String("state", "", "JSON object to track")
}
