// cmd/logs.go
package cmd

import (
	"github.com/markb/sbrealtime/internal/realtime"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <execution-id>",
	Short: "Stream the logs of an execution",
	Long:  `Subscribes to the log stream of one function, job or rpc execution and prints each line until interrupted.`,
	Example: `  sbrealtime logs 7f0c2a --type function
  sbrealtime logs 7f0c2a -o json | jq .data.message`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := newPrinter(cmd.OutOrStdout(), cfg.Output)
		if err != nil {
			return err
		}
		execType, _ := cmd.Flags().GetString("type")
		chCfg := cfg.channelConfig()

		dir, err := newDirectory(cmd.Context())
		if err != nil {
			return err
		}
		defer dir.Close()

		logs := dir.ExecutionLogsWithConfig(args[0], execType, &chCfg)
		logs.OnLog(func(line realtime.ExecutionLog) {
			out.Value(string(realtime.KindExecutionLog), line.Level, line)
		})
		return runChannel(cmd.Context(), logs.Channel, out, nil)
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().String("type", realtime.DefaultExecutionType, "Execution type: function, job or rpc")
}
