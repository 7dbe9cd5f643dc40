// internal/realtime/execlog.go
package realtime

import "fmt"

// DefaultExecutionType is the execution kind used when none is given.
const DefaultExecutionType = "function"

// ExecutionLogsChannel is a Channel scoped to the log stream of one
// execution.
type ExecutionLogsChannel struct {
	*Channel
	executionID   string
	executionType string
}

// ExecutionLogTopic returns the topic for an execution's log stream
func ExecutionLogTopic(executionID, executionType string) string {
	if executionType == "" {
		executionType = DefaultExecutionType
	}
	return fmt.Sprintf("execution:%s:%s", executionType, executionID)
}

// ExecutionID returns the execution the channel is bound to
func (c *ExecutionLogsChannel) ExecutionID() string {
	return c.executionID
}

// ExecutionType returns the execution kind (function, job, rpc, ...)
func (c *ExecutionLogsChannel) ExecutionType() string {
	return c.executionType
}

// OnLog registers cb for every log line of the execution.
func (c *ExecutionLogsChannel) OnLog(cb func(ExecutionLog)) Handle {
	return c.On(KindExecutionLog, c.criteria(), func(ev Event) {
		cb(*ev.ExecutionLog)
	})
}

func (c *ExecutionLogsChannel) criteria() Criteria {
	return Criteria{ExecutionID: c.executionID, ExecutionType: c.executionType}
}

// scopeExecutionLogs pins the execution criteria onto ch's subscribe message
func scopeExecutionLogs(ch *Channel, executionID, executionType string) {
	ch.scope = &subscribeCriteria{
		Kind:     KindExecutionLog,
		Criteria: Criteria{ExecutionID: executionID, ExecutionType: executionType},
	}
}
