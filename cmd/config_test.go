// cmd/config_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	globalFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sbrealtime.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(testFlags(t), envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.URL)
	assert.Equal(t, "auto", cfg.Output)
	assert.Equal(t, "console", cfg.Log.Mode)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
	assert.Equal(t, 3, cfg.Channel.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.Channel.ReconnectDelay)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
url = "https://file.example"
apikey = "anon"

[log]
mode = "database"
db = "/tmp/rt-log.db"

[channel]
reconnect_attempts = 5
reconnect_delay = "250ms"
heartbeat_interval = "10s"
`)
	cfg, err := LoadConfig(testFlags(t, "--config", path), envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "https://file.example", cfg.URL)
	assert.Equal(t, "anon", cfg.APIKey)
	assert.Equal(t, "database", cfg.Log.Mode)
	assert.Equal(t, "/tmp/rt-log.db", cfg.Log.DB)
	assert.Equal(t, 5, cfg.Channel.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Channel.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.Channel.HeartbeatInterval)
	// untouched keys keep defaults
	assert.Equal(t, "text", cfg.Log.Format)

	cc := cfg.channelConfig()
	assert.Equal(t, 5, cc.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cc.ReconnectDelay)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfig(t, `
url = "https://file.example"
token = "file-token"
output = "pretty"
`)
	env := envMap(map[string]string{
		"SBREALTIME_CONFIG": path,
		"SBREALTIME_URL":    "https://env.example",
		"SBREALTIME_TOKEN":  "env-token",
	})

	cfg, err := LoadConfig(testFlags(t, "--token", "flag-token"), env)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.URL, "env overrides file")
	assert.Equal(t, "flag-token", cfg.Token, "flag overrides env")
	assert.Equal(t, "pretty", cfg.Output, "file overrides default")
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := LoadConfig(testFlags(t, "--config", filepath.Join(t.TempDir(), "nope.toml")), envMap(nil))
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, `urll = "typo"`)
		_, err := LoadConfig(testFlags(t, "--config", path), envMap(nil))
		assert.ErrorContains(t, err, "unknown key")
	})

	t.Run("bad env number", func(t *testing.T) {
		_, err := LoadConfig(testFlags(t), envMap(map[string]string{"SBREALTIME_RECONNECT_ATTEMPTS": "many"}))
		assert.Error(t, err)
	})
}

func TestTelemetryConfig(t *testing.T) {
	cfg := DefaultConfig()
	oc := cfg.telemetryConfig()
	assert.False(t, oc.MetricsEnabled)
	assert.False(t, oc.TracesEnabled)

	cfg.Telemetry.Exporter = "stdout"
	oc = cfg.telemetryConfig()
	assert.True(t, oc.MetricsEnabled)
	assert.True(t, oc.TracesEnabled)
	assert.Equal(t, Version, oc.ServiceVersion)
}
