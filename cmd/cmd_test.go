// cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/markb/sbrealtime/internal/log"
	"github.com/markb/sbrealtime/internal/realtimetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCommand executes the root command with args and returns stdout
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCommandEnv(context.Background(), t, nil, args...)
}

// runCommandEnv is runCommand with a context and environment
func runCommandEnv(ctx context.Context, t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	lookupEnv = envMap(env)
	t.Cleanup(func() {
		shutdown()
		log.Close()
		lookupEnv = os.Getenv
	})

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func jsonLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var recs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		recs = append(recs, rec)
	}
	return recs
}

func TestBroadcastCommand(t *testing.T) {
	srv := realtimetest.New(t)

	out, err := runCommand(t, "broadcast", "room:1", "chat", `{"text":"hi"}`,
		"--url", srv.URL, "--token", "tok", "--apikey", "anon", "--ack", "-o", "json")
	require.NoError(t, err)

	recs := jsonLines(t, out)
	require.Len(t, recs, 1)
	assert.Equal(t, "broadcast", recs[0]["kind"])
	assert.Equal(t, "ok", recs[0]["type"])

	conn := srv.WaitConn(t, 2*time.Second)
	assert.Equal(t, "room:1", conn.Topic)
	assert.Equal(t, "tok", conn.Token())
	assert.Equal(t, "anon", conn.Query.Get("apikey"))
}

func TestBroadcastCommandRefused(t *testing.T) {
	srv := realtimetest.New(t)
	srv.Refuse(true)

	_, err := runCommand(t, "broadcast", "room:1", "chat", "--url", srv.URL, "-o", "json")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "log.db")

	h, err := log.NewDBHandler(&log.Config{DBPath: dbPath, RetentionDays: 7}, slog.LevelDebug)
	require.NoError(t, err)
	logger := slog.New(h)
	logger.Info("realtime: subscribed", "topic", "room:1")
	logger.Warn("realtime: connect failed", "topic", "room:1", "error", "refused")
	logger.Warn("realtime: connect failed", "topic", "room:2", "error", "refused")
	require.NoError(t, h.Close())

	out, err := runCommand(t, "history", "--log-db", dbPath, "--topic", "room:1", "--level", "warn", "-o", "json")
	require.NoError(t, err)

	recs := jsonLines(t, out)
	require.Len(t, recs, 1)
	data := recs[0]["data"].(map[string]any)
	assert.Equal(t, "realtime: connect failed", data["message"])
	assert.Equal(t, "room:1", data["topic"])
}

func TestLogsCommandUsesChannelConfig(t *testing.T) {
	srv := realtimetest.New(t)
	path := writeConfig(t, `
[channel]
private = true
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := runCommandEnv(ctx, t, map[string]string{"SBREALTIME_CONFIG": path},
			"logs", "exec-7", "--type", "job", "--url", srv.URL, "-o", "json")
		done <- err
	}()

	conn := srv.WaitConn(t, 2*time.Second)
	assert.Equal(t, "execution:job:exec-7", conn.Topic)
	sub := conn.Expect(t, "subscribe", 2*time.Second)

	config := sub["config"].(map[string]any)
	assert.Equal(t, true, config["private"])
	criteria := sub["criteria"].([]any)
	require.Len(t, criteria, 1)
	c := criteria[0].(map[string]any)
	assert.Equal(t, "execution_log", c["kind"])
	assert.Equal(t, "exec-7", c["execution_id"])
	assert.Equal(t, "job", c["type"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("logs command did not stop")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sbrealtime version "+Version)
}
