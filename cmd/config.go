// cmd/config.go
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/markb/sbrealtime/internal/log"
	"github.com/markb/sbrealtime/internal/observability"
	"github.com/markb/sbrealtime/internal/realtime"
	"github.com/spf13/pflag"
)

// defaultConfigFile is read when present and no --config is given.
const defaultConfigFile = "sbrealtime.toml"

// Config is the resolved CLI configuration.
type Config struct {
	URL       string `toml:"url"`
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
	APIKey    string `toml:"apikey"`
	Output    string `toml:"output"` // auto, json or pretty

	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Channel   ChannelConfig   `toml:"channel"`
}

// LogConfig is the [log] table.
type LogConfig struct {
	Mode          string `toml:"mode"`
	Level         string `toml:"level"`
	Format        string `toml:"format"`
	File          string `toml:"file"`
	DB            string `toml:"db"`
	RetentionDays int    `toml:"retention_days"`
}

// TelemetryConfig is the [telemetry] table.
type TelemetryConfig struct {
	Exporter   string  `toml:"exporter"`
	Endpoint   string  `toml:"endpoint"`
	SampleRate float64 `toml:"sample_rate"`
}

// ChannelConfig is the [channel] table.
type ChannelConfig struct {
	ReconnectAttempts   int           `toml:"reconnect_attempts"`
	ReconnectDelay      time.Duration `toml:"reconnect_delay"`
	ReconnectMultiplier float64       `toml:"reconnect_multiplier"`
	HeartbeatInterval   time.Duration `toml:"heartbeat_interval"`
	AckTimeout          time.Duration `toml:"ack_timeout"`
	Private             bool          `toml:"private"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	logCfg := log.DefaultConfig()
	otelCfg := observability.NewConfig()
	chCfg := realtime.DefaultChannelConfig()
	return &Config{
		URL:    "http://localhost:8080",
		Output: "auto",
		Log: LogConfig{
			Mode:          logCfg.Mode,
			Level:         "warn",
			Format:        logCfg.Format,
			File:          logCfg.FilePath,
			DB:            logCfg.DBPath,
			RetentionDays: logCfg.RetentionDays,
		},
		Telemetry: TelemetryConfig{
			Exporter:   otelCfg.Exporter,
			Endpoint:   otelCfg.Endpoint,
			SampleRate: otelCfg.SampleRate,
		},
		Channel: ChannelConfig{
			ReconnectAttempts:   chCfg.ReconnectAttempts,
			ReconnectDelay:      chCfg.ReconnectDelay,
			ReconnectMultiplier: chCfg.ReconnectMultiplier,
			HeartbeatInterval:   chCfg.HeartbeatInterval,
			AckTimeout:          chCfg.Broadcast.AckTimeout,
		},
	}
}

// LoadConfig resolves configuration.
// Priority: CLI flags > environment variables > config file > defaults
func LoadConfig(flags *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	path, explicit := getenv("SBREALTIME_CONFIG"), false
	if path != "" {
		explicit = true
	}
	if flags.Changed("config") {
		path, _ = flags.GetString("config")
		explicit = true
	}
	if path == "" {
		path = defaultConfigFile
	}
	if err := loadConfigFile(cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	applyFlags(cfg, flags)
	return cfg, nil
}

// loadConfigFile overlays the TOML file at path onto cfg. Keys absent from
// the file keep their current values.
func loadConfigFile(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("SBREALTIME_URL"); v != "" {
		cfg.URL = v
	}
	if v := getenv("SBREALTIME_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := getenv("SBREALTIME_TOKEN_FILE"); v != "" {
		cfg.TokenFile = v
	}
	if v := getenv("SBREALTIME_APIKEY"); v != "" {
		cfg.APIKey = v
	}
	if v := getenv("SBREALTIME_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := getenv("SBREALTIME_LOG_MODE"); v != "" {
		cfg.Log.Mode = v
	}
	if v := getenv("SBREALTIME_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("SBREALTIME_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv("SBREALTIME_LOG_DB"); v != "" {
		cfg.Log.DB = v
	}
	if v := getenv("SBREALTIME_OTEL_EXPORTER"); v != "" {
		cfg.Telemetry.Exporter = v
	}
	if v := getenv("SBREALTIME_OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	if v := getenv("SBREALTIME_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SBREALTIME_RECONNECT_ATTEMPTS: %w", err)
		}
		cfg.Channel.ReconnectAttempts = n
	}
	return nil
}

func applyFlags(cfg *Config, flags *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("url", &cfg.URL)
	str("token", &cfg.Token)
	str("token-file", &cfg.TokenFile)
	str("apikey", &cfg.APIKey)
	str("output", &cfg.Output)
	str("log-mode", &cfg.Log.Mode)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("log-db", &cfg.Log.DB)
	str("otel-exporter", &cfg.Telemetry.Exporter)
	str("otel-endpoint", &cfg.Telemetry.Endpoint)
	if flags.Changed("reconnect-attempts") {
		cfg.Channel.ReconnectAttempts, _ = flags.GetInt("reconnect-attempts")
	}
}

// logConfig converts the [log] table for log.Init.
func (c *Config) logConfig() *log.Config {
	lc := log.DefaultConfig()
	lc.Mode = c.Log.Mode
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.FilePath = c.Log.File
	lc.DBPath = c.Log.DB
	lc.RetentionDays = c.Log.RetentionDays
	return lc
}

// telemetryConfig converts the [telemetry] table for observability.Init.
func (c *Config) telemetryConfig() *observability.Config {
	oc := observability.NewConfig()
	oc.Exporter = c.Telemetry.Exporter
	oc.Endpoint = c.Telemetry.Endpoint
	oc.SampleRate = c.Telemetry.SampleRate
	oc.ServiceVersion = Version
	oc.MetricsEnabled = oc.ShouldEnable()
	oc.TracesEnabled = oc.ShouldEnable()
	return oc
}

// channelConfig builds the channel configuration shared by all commands.
func (c *Config) channelConfig() realtime.ChannelConfig {
	cc := realtime.DefaultChannelConfig()
	cc.ReconnectAttempts = c.Channel.ReconnectAttempts
	cc.ReconnectDelay = c.Channel.ReconnectDelay
	cc.ReconnectMultiplier = c.Channel.ReconnectMultiplier
	cc.HeartbeatInterval = c.Channel.HeartbeatInterval
	cc.Broadcast.AckTimeout = c.Channel.AckTimeout
	cc.Private = c.Channel.Private
	return cc
}

// lookupEnv is the getenv used outside tests.
var lookupEnv = os.Getenv
