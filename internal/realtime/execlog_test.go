// internal/realtime/execlog_test.go
package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionLogTopic(t *testing.T) {
	assert.Equal(t, "execution:function:abc", ExecutionLogTopic("abc", ""))
	assert.Equal(t, "execution:job:abc", ExecutionLogTopic("abc", "job"))
}

func TestExecutionLogsChannel(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))

	logs := d.ExecutionLogs("exec-1", "")
	assert.Equal(t, "exec-1", logs.ExecutionID())
	assert.Equal(t, DefaultExecutionType, logs.ExecutionType())
	assert.Equal(t, "execution:function:exec-1", logs.Topic())
	assert.Same(t, logs.Channel, d.ExecutionLogs("exec-1", DefaultExecutionType).Channel)

	var lines []string
	logs.OnLog(func(l ExecutionLog) { lines = append(lines, l.Message) })

	require.NoError(t, logs.Subscribe(context.Background(), nil))
	defer logs.Unsubscribe()
	conn := tr.waitConn(t)

	f := conn.expect(t, TypeSubscribe)
	criteria := f["criteria"].([]any)
	require.Len(t, criteria, 1)
	c := criteria[0].(map[string]any)
	assert.Equal(t, "execution_log", c["kind"])
	assert.Equal(t, "exec-1", c["execution_id"])
	assert.Equal(t, "function", c["type"])

	conn.push(t, map[string]any{"type": "execution_log", "payload": map[string]any{
		"execution_id": "exec-1", "level": "info", "message": "started",
	}})
	conn.push(t, map[string]any{"type": "execution_log", "payload": map[string]any{
		"execution_id": "exec-2", "level": "info", "message": "someone else",
	}})
	conn.push(t, map[string]any{"type": "execution_log", "payload": map[string]any{
		"execution_id": "exec-1", "level": "error", "message": "failed",
	}})

	assert.Equal(t, []string{"started", "failed"}, lines)
}

func TestExecutionLogsAfterPlainChannel(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))

	// A plain channel on the same topic must not satisfy the scoped lookup.
	plain := d.Channel(ExecutionLogTopic("exec-1", ""), nil)
	logs := d.ExecutionLogs("exec-1", "")
	assert.NotSame(t, plain, logs.Channel)
	assert.Nil(t, plain.scope)
	assert.Same(t, plain, d.Channel(ExecutionLogTopic("exec-1", ""), nil))
	assert.Same(t, logs.Channel, d.ExecutionLogs("exec-1", "").Channel)

	require.NoError(t, logs.Subscribe(context.Background(), nil))
	defer logs.Unsubscribe()
	conn := tr.waitConn(t)

	f := conn.expect(t, TypeSubscribe)
	criteria := f["criteria"].([]any)
	require.Len(t, criteria, 1)
	c := criteria[0].(map[string]any)
	assert.Equal(t, "execution_log", c["kind"])
	assert.Equal(t, "exec-1", c["execution_id"])

	// Removing the scoped channel leaves the plain one cached.
	d.RemoveChannel(logs.Channel)
	assert.Same(t, plain, d.Channel(ExecutionLogTopic("exec-1", ""), nil))
}

func TestExecutionLogsWithConfig(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))

	cfg := fastConfig()
	cfg.Broadcast.AckTimeout = 3 * time.Second
	logs := d.ExecutionLogsWithConfig("exec-9", "job", cfg)
	assert.Equal(t, "execution:job:exec-9", logs.Topic())
	assert.Equal(t, 3*time.Second, logs.Config().Broadcast.AckTimeout)
	assert.Same(t, logs.Channel, d.ExecutionLogsWithConfig("exec-9", "job", cfg).Channel)
	assert.NotSame(t, logs.Channel, d.ExecutionLogs("exec-9", "job").Channel)
	require.NotNil(t, logs.scope)
	assert.Equal(t, "exec-9", logs.scope.Criteria.ExecutionID)
}
