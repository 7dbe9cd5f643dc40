// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/markb/sbrealtime/internal/credential"
	"github.com/markb/sbrealtime/internal/log"
	"github.com/markb/sbrealtime/internal/observability"
	"github.com/markb/sbrealtime/internal/realtime"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

// cfg and telemetry are set up by the root pre-run hook.
var (
	cfg       *Config
	telemetry *observability.Telemetry
	shutdown  = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "sbrealtime",
	Short: "Realtime channel client",
	Long: `Subscribes to realtime channels from the terminal: database row changes,
broadcasts, presence and execution log streams.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := LoadConfig(cmd.Flags(), lookupEnv)
		if err != nil {
			return err
		}
		cfg = loaded

		if err := log.Init(cfg.logConfig()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		tel, cleanup, err := observability.Init(cmd.Context(), cfg.telemetryConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		telemetry = tel
		shutdown = cleanup
		return nil
	},
}

func init() {
	// Set version template to include build info when available
	rootCmd.SetVersionTemplate("sbrealtime version {{.Version}}\n")

	globalFlags(rootCmd.PersistentFlags())
}

// globalFlags defines the flags every command accepts
func globalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to TOML config file (default: ./"+defaultConfigFile+" when present)")
	flags.String("url", "", "Service base URL")
	flags.String("token", "", "Access token")
	flags.String("token-file", "", "Read the access token from a file, re-read on refresh")
	flags.String("apikey", "", "API key sent as the apikey query parameter")
	flags.StringP("output", "o", "", "Output format: auto, json or pretty")
	flags.String("log-mode", "", "Log mode: console, file or database")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("log-db", "", "Path to the log database")
	flags.String("otel-exporter", "", "Telemetry exporter: none, stdout or otlp")
	flags.String("otel-endpoint", "", "OTLP endpoint")
	flags.Int("reconnect-attempts", 0, "Reconnect budget after an unexpected close (0 disables)")
}

// Execute runs the root command. Interrupt and SIGTERM cancel the command
// context so long-running commands can unsubscribe cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	shutdown()
	log.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newDirectory builds a directory from the resolved configuration and
// applies the initial credential. A token file doubles as the refresh
// callback.
func newDirectory(ctx context.Context) (*realtime.Directory, error) {
	opts := realtime.Options{URL: cfg.URL}
	if cfg.APIKey != "" {
		opts.Params = map[string]string{"apikey": cfg.APIKey}
	}
	if telemetry != nil {
		opts.Metrics = telemetry.Metrics()
		opts.TracerProvider = telemetry.TracerProvider()
	}
	dir := realtime.NewDirectory(opts)

	var source credential.Source
	switch {
	case cfg.TokenFile != "":
		source = credential.File(cfg.TokenFile)
	case cfg.Token != "":
		source = credential.Static(cfg.Token)
	}
	if source == nil {
		return dir, nil
	}

	token, err := source(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if sub := credential.Subject(token); sub != "" {
		log.Debug("using credential", "subject", sub)
	}
	dir.SetRefreshCallback(realtime.RefreshFunc(source))
	dir.SetAuth(&token)
	return dir, nil
}
