// internal/realtime/protocol.go

// Package realtime implements the client side of the realtime channel protocol.
// A Channel keeps one websocket per topic and dispatches postgres_changes,
// broadcast, presence and execution_log events to registered callbacks. A
// Directory creates, caches and reconfigures channels.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the family of events a subscription listens to.
type Kind string

const (
	KindPostgresChanges Kind = "postgres_changes"
	KindBroadcast       Kind = "broadcast"
	KindPresence        Kind = "presence"
	KindExecutionLog    Kind = "execution_log"
)

// Message types sent by the client
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeBroadcast   = "broadcast"
	TypePresence    = "presence"
	TypeAccessToken = "access_token"
	TypeHeartbeat   = "heartbeat"
)

// Message types sent by the server
const (
	TypePostgresChanges = "postgres_changes"
	TypeAck             = "ack"
	TypeError           = "error"
	TypeExecutionLog    = "execution_log"
)

// Presence events
const (
	PresenceSync    = "sync"
	PresenceJoin    = "join"
	PresenceLeave   = "leave"
	PresenceTrack   = "track"
	PresenceUntrack = "untrack"
)

// Postgres change events. EventAll matches any event in criteria.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

// Criteria describes what a subscription matches. Postgres subscriptions use
// Event, Schema, Table and Filter; broadcast and presence subscriptions use
// Event only; execution_log subscriptions use ExecutionID and ExecutionType.
type Criteria struct {
	Event         string `json:"event,omitempty"`
	Schema        string `json:"schema,omitempty"`
	Table         string `json:"table,omitempty"`
	Filter        string `json:"filter,omitempty"`
	ExecutionID   string `json:"execution_id,omitempty"`
	ExecutionType string `json:"type,omitempty"`
}

// subscribeCriteria is one entry of the criteria list in a subscribe message.
type subscribeCriteria struct {
	Kind Kind `json:"kind"`
	Criteria
}

// joinConfig mirrors the channel options the server needs to know about.
type joinConfig struct {
	Broadcast struct {
		Ack  bool `json:"ack"`
		Self bool `json:"self"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	Private bool `json:"private"`
}

// OutboundMessage is a control message sent to the server.
type OutboundMessage struct {
	Type      string              `json:"type"`
	Topic     string              `json:"topic,omitempty"`
	Criteria  []subscribeCriteria `json:"criteria,omitempty"`
	Config    *joinConfig         `json:"config,omitempty"`
	MessageID string              `json:"messageId,omitempty"`
	Event     string              `json:"event,omitempty"`
	Payload   any                 `json:"payload,omitempty"`
	Self      *bool               `json:"self,omitempty"`
	Token     *string             `json:"token,omitempty"`
}

// Encode serializes a message to JSON bytes
func (m *OutboundMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewSubscribeMessage creates a subscribe message
func NewSubscribeMessage(topic string, criteria []subscribeCriteria, cfg ChannelConfig) *OutboundMessage {
	jc := &joinConfig{Private: cfg.Private}
	jc.Broadcast.Ack = cfg.Broadcast.Ack
	jc.Broadcast.Self = cfg.Broadcast.Self
	jc.Presence.Key = cfg.Presence.Key
	if criteria == nil {
		criteria = []subscribeCriteria{}
	}
	return &OutboundMessage{
		Type:     TypeSubscribe,
		Topic:    topic,
		Criteria: criteria,
		Config:   jc,
	}
}

// NewUnsubscribeMessage creates an unsubscribe message
func NewUnsubscribeMessage(topic string) *OutboundMessage {
	return &OutboundMessage{Type: TypeUnsubscribe, Topic: topic}
}

// NewBroadcastMessage creates a broadcast message. self is only set on the
// wire when the sender wants its own echo.
func NewBroadcastMessage(messageID, event string, payload any, self bool) *OutboundMessage {
	msg := &OutboundMessage{
		Type:      TypeBroadcast,
		MessageID: messageID,
		Event:     event,
		Payload:   payload,
	}
	if self {
		msg.Self = &self
	}
	return msg
}

// NewPresenceMessage creates a track or untrack message. The key is merged
// into the state payload.
func NewPresenceMessage(event, key string, state map[string]any) *OutboundMessage {
	payload := make(map[string]any, len(state)+1)
	for k, v := range state {
		payload[k] = v
	}
	payload["key"] = key
	return &OutboundMessage{Type: TypePresence, Event: event, Payload: payload}
}

// NewAccessTokenMessage creates a credential rotation message
func NewAccessTokenMessage(token string) *OutboundMessage {
	return &OutboundMessage{Type: TypeAccessToken, Token: &token}
}

// NewHeartbeatMessage creates a heartbeat message
func NewHeartbeatMessage() *OutboundMessage {
	return &OutboundMessage{Type: TypeHeartbeat}
}

// InboundMessage is one decoded server frame. The concrete type is one of
// *PostgresChangesMessage, *BroadcastMessage, *PresenceMessage, *AckMessage,
// *ErrorMessage, *ExecutionLogMessage, *HeartbeatMessage or *UnknownMessage.
type InboundMessage interface {
	messageType() string
}

// PostgresChange is a row change delivered for a subscribed table.
type PostgresChange struct {
	Type      string         `json:"type"`
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	NewRecord map[string]any `json:"new_record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// PostgresChangesMessage carries a row change.
type PostgresChangesMessage struct {
	Change PostgresChange
}

// Broadcast is an application message relayed by the server.
type Broadcast struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Self    bool   `json:"self,omitempty"`
}

// BroadcastMessage carries a broadcast.
type BroadcastMessage struct {
	Broadcast Broadcast
}

// PresenceEvent is a presence change. Sync events carry the full state in
// CurrentPresences; join and leave carry the entries for Key.
type PresenceEvent struct {
	Event            string                      `json:"event"`
	Key              string                      `json:"key,omitempty"`
	CurrentPresences map[string][]map[string]any `json:"currentPresences,omitempty"`
	NewPresences     []map[string]any            `json:"newPresences,omitempty"`
	LeftPresences    []map[string]any            `json:"leftPresences,omitempty"`
}

// PresenceMessage carries a presence change.
type PresenceMessage struct {
	Presence PresenceEvent
}

// AckPayload is the optional body of an ack frame.
type AckPayload struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Updated        bool   `json:"updated,omitempty"`
}

// AckMessage confirms an earlier request.
type AckMessage struct {
	MessageID string
	Payload   AckPayload
}

// ErrorMessage reports a server-side failure.
type ErrorMessage struct {
	Error string
}

// ExecutionLog is one log line of a function or job execution.
type ExecutionLog struct {
	ExecutionID string `json:"execution_id"`
	Level       string `json:"level"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}

// ExecutionLogMessage carries an execution log line.
type ExecutionLogMessage struct {
	Log ExecutionLog
}

// HeartbeatMessage confirms the connection is alive.
type HeartbeatMessage struct{}

// UnknownMessage is a well-formed frame with an unrecognized type.
type UnknownMessage struct {
	Type string
}

func (*PostgresChangesMessage) messageType() string { return TypePostgresChanges }
func (*BroadcastMessage) messageType() string       { return TypeBroadcast }
func (*PresenceMessage) messageType() string        { return TypePresence }
func (*AckMessage) messageType() string             { return TypeAck }
func (*ErrorMessage) messageType() string           { return TypeError }
func (*ExecutionLogMessage) messageType() string    { return TypeExecutionLog }
func (*HeartbeatMessage) messageType() string       { return TypeHeartbeat }
func (m *UnknownMessage) messageType() string       { return m.Type }

// envelope is the union of all top-level inbound fields.
type envelope struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId"`
	Payload   json.RawMessage `json:"payload"`
	Broadcast json.RawMessage `json:"broadcast"`
	Presence  json.RawMessage `json:"presence"`
	Error     json.RawMessage `json:"error"`
}

// ErrMissingType is returned for frames without a type field.
var ErrMissingType = errors.New("message has no type")

// DecodeMessage parses JSON bytes into an InboundMessage
func DecodeMessage(data []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}

	switch env.Type {
	case "":
		return nil, ErrMissingType

	case TypePostgresChanges:
		msg := &PostgresChangesMessage{}
		if err := unmarshalOptional(env.Payload, &msg.Change); err != nil {
			return nil, fmt.Errorf("invalid postgres_changes payload: %w", err)
		}
		return msg, nil

	case TypeBroadcast:
		raw, err := nestedOrTopLevel(env.Payload, "broadcast", env.Broadcast)
		if err != nil {
			return nil, fmt.Errorf("invalid broadcast payload: %w", err)
		}
		msg := &BroadcastMessage{}
		if err := unmarshalOptional(raw, &msg.Broadcast); err != nil {
			return nil, fmt.Errorf("invalid broadcast payload: %w", err)
		}
		return msg, nil

	case TypePresence:
		raw, err := nestedOrTopLevel(env.Payload, "presence", env.Presence)
		if err != nil {
			return nil, fmt.Errorf("invalid presence payload: %w", err)
		}
		msg := &PresenceMessage{}
		if err := decodePresence(raw, &msg.Presence); err != nil {
			return nil, fmt.Errorf("invalid presence payload: %w", err)
		}
		return msg, nil

	case TypeAck:
		msg := &AckMessage{MessageID: env.MessageID}
		if err := unmarshalOptional(env.Payload, &msg.Payload); err != nil {
			return nil, fmt.Errorf("invalid ack payload: %w", err)
		}
		return msg, nil

	case TypeError:
		return &ErrorMessage{Error: errorText(env.Error, env.Payload)}, nil

	case TypeExecutionLog:
		msg := &ExecutionLogMessage{}
		if err := unmarshalOptional(env.Payload, &msg.Log); err != nil {
			return nil, fmt.Errorf("invalid execution_log payload: %w", err)
		}
		return msg, nil

	case TypeHeartbeat:
		return &HeartbeatMessage{}, nil

	default:
		return &UnknownMessage{Type: env.Type}, nil
	}
}

// nestedOrTopLevel returns payload.<field> when present, otherwise the
// top-level field. Servers emit both shapes.
func nestedOrTopLevel(payload json.RawMessage, field string, topLevel json.RawMessage) (json.RawMessage, error) {
	if !isEmptyJSON(payload) {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(payload, &nested); err != nil {
			return nil, err
		}
		if raw, ok := nested[field]; ok && !isEmptyJSON(raw) {
			return raw, nil
		}
	}
	return topLevel, nil
}

// decodePresence accepts currentPresences either as a key -> entries map or,
// for join events, as a bare list of entries for Key.
func decodePresence(raw json.RawMessage, out *PresenceEvent) error {
	if isEmptyJSON(raw) {
		return nil
	}
	var wire struct {
		Event            string           `json:"event"`
		Key              string           `json:"key"`
		CurrentPresences json.RawMessage  `json:"currentPresences"`
		NewPresences     []map[string]any `json:"newPresences"`
		LeftPresences    []map[string]any `json:"leftPresences"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	out.Event = wire.Event
	out.Key = wire.Key
	out.NewPresences = wire.NewPresences
	out.LeftPresences = wire.LeftPresences

	current := bytes.TrimSpace(wire.CurrentPresences)
	switch {
	case isEmptyJSON(current):
	case current[0] == '[':
		var list []map[string]any
		if err := json.Unmarshal(current, &list); err != nil {
			return err
		}
		out.CurrentPresences = map[string][]map[string]any{wire.Key: list}
	default:
		if err := json.Unmarshal(current, &out.CurrentPresences); err != nil {
			return err
		}
	}
	return nil
}

// errorText flattens an error field that may be a string or an object.
func errorText(fields ...json.RawMessage) string {
	for _, raw := range fields {
		if isEmptyJSON(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err == nil {
			for _, k := range []string{"message", "error", "reason"} {
				if v, ok := obj[k].(string); ok && v != "" {
					return v
				}
			}
		}
		return string(raw)
	}
	return "unknown error"
}

func unmarshalOptional(raw json.RawMessage, v any) error {
	if isEmptyJSON(raw) {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func isEmptyJSON(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
