// cmd/broadcast.go
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/markb/sbrealtime/internal/realtime"
	"github.com/spf13/cobra"
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <topic> <event> [payload]",
	Short: "Send a broadcast message",
	Long: `Joins a channel, sends one broadcast and leaves. The payload is JSON; a value
that does not parse as JSON is sent as a string.`,
	Example: `  sbrealtime broadcast room:1 chat '{"text":"hi"}' --ack`,
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, event := args[0], args[1]
		var payload any
		if len(args) == 3 {
			payload = parsePayload(args[2])
		}

		out, err := newPrinter(cmd.OutOrStdout(), cfg.Output)
		if err != nil {
			return err
		}

		chCfg := cfg.channelConfig()
		chCfg.Broadcast.Ack, _ = cmd.Flags().GetBool("ack")
		// One-shot command; a dropped connection is an error, not a retry.
		chCfg.ReconnectAttempts = 0

		dir, err := newDirectory(cmd.Context())
		if err != nil {
			return err
		}
		defer dir.Close()

		ch := dir.Channel(topic, &chCfg)
		if err := ch.Subscribe(cmd.Context(), nil); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}

		status := ch.Send(cmd.Context(), event, payload)
		out.Value("broadcast", string(status), map[string]any{"topic": topic, "event": event})
		if status != realtime.StatusOK {
			return fmt.Errorf("broadcast %s on %s failed", event, topic)
		}
		return nil
	},
}

// parsePayload decodes s as JSON, falling back to the raw string
func parsePayload(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func init() {
	rootCmd.AddCommand(broadcastCmd)
	broadcastCmd.Flags().Bool("ack", false, "Wait for the server to acknowledge the message")
}
