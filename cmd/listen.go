// cmd/listen.go
package cmd

import (
	"context"
	"fmt"

	"github.com/markb/sbrealtime/internal/log"
	"github.com/markb/sbrealtime/internal/realtime"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen <topic>",
	Short: "Print events from a channel",
	Long: `Subscribes to a channel and prints every matching event until interrupted.

Row changes are selected with --table/--schema/--event/--filter, broadcasts
with --broadcast and presence changes with --presence. With no selector all
broadcasts are printed.`,
	Example: `  sbrealtime listen room:1 --broadcast chat
  sbrealtime listen public:messages --table messages --event INSERT --filter "room_id=eq.1"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]
		out, err := newPrinter(cmd.OutOrStdout(), cfg.Output)
		if err != nil {
			return err
		}

		chCfg := cfg.channelConfig()
		chCfg.Broadcast.Self, _ = cmd.Flags().GetBool("self")
		chCfg.Presence.Key, _ = cmd.Flags().GetString("key")

		dir, err := newDirectory(cmd.Context())
		if err != nil {
			return err
		}
		defer dir.Close()

		ch := dir.Channel(topic, &chCfg)
		if err := registerListeners(cmd, ch, out); err != nil {
			return err
		}
		return runChannel(cmd.Context(), ch, out, nil)
	},
}

// registerListeners binds the selector flags to callbacks on ch
func registerListeners(cmd *cobra.Command, ch *realtime.Channel, out *printer) error {
	table, _ := cmd.Flags().GetString("table")
	schema, _ := cmd.Flags().GetString("schema")
	event, _ := cmd.Flags().GetString("event")
	filter, _ := cmd.Flags().GetString("filter")
	broadcasts, _ := cmd.Flags().GetStringSlice("broadcast")
	presence, _ := cmd.Flags().GetBool("presence")

	emit := func(ev realtime.Event) { out.Event(ch.Topic(), ev) }
	selected := false

	if table != "" || filter != "" {
		if filter != "" {
			if _, err := realtime.ParseFilter(filter); err != nil {
				return err
			}
		}
		ch.On(realtime.KindPostgresChanges, realtime.Criteria{
			Event:  event,
			Schema: schema,
			Table:  table,
			Filter: filter,
		}, emit)
		selected = true
	}
	for _, name := range broadcasts {
		ch.On(realtime.KindBroadcast, realtime.Criteria{Event: name}, emit)
		selected = true
	}
	if presence {
		ch.On(realtime.KindPresence, realtime.Criteria{Event: realtime.EventAll}, emit)
		selected = true
	}
	if !selected {
		ch.On(realtime.KindBroadcast, realtime.Criteria{Event: realtime.EventAll}, emit)
	}
	return nil
}

// runChannel subscribes ch, runs afterSubscribe if set, and blocks until ctx
// is cancelled or the channel closes for good.
func runChannel(ctx context.Context, ch *realtime.Channel, out *printer, afterSubscribe func() error) error {
	closed := make(chan error, 1)
	err := ch.Subscribe(ctx, func(status realtime.Status, err error) {
		out.Status(ch.Topic(), status, err)
		if status == realtime.StatusClosed {
			select {
			case closed <- err:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ch.Topic(), err)
	}
	if afterSubscribe != nil {
		if err := afterSubscribe(); err != nil {
			ch.Unsubscribe()
			return err
		}
	}

	select {
	case <-ctx.Done():
		log.Debug("interrupted, unsubscribing", "topic", ch.Topic())
		ch.Unsubscribe()
		return nil
	case err := <-closed:
		if err == nil {
			err = realtime.ErrChannelClosed
		}
		return fmt.Errorf("channel %s closed: %w", ch.Topic(), err)
	}
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().String("table", "", "Table to watch for row changes")
	listenCmd.Flags().String("schema", realtime.DefaultSchema, "Schema of --table")
	listenCmd.Flags().String("event", realtime.EventAll, "Row event: INSERT, UPDATE, DELETE or *")
	listenCmd.Flags().String("filter", "", "Row filter, e.g. user_id=eq.123")
	listenCmd.Flags().StringSlice("broadcast", nil, "Broadcast events to print (* for all)")
	listenCmd.Flags().Bool("presence", false, "Print presence changes")
	listenCmd.Flags().Bool("self", false, "Receive broadcasts sent by this client")
	listenCmd.Flags().String("key", "", "Presence key")
}
