// internal/realtime/config.go
package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/markb/sbrealtime/internal/observability"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultPath is appended to the base URL when no path is configured.
	DefaultPath = "/realtime/v1/channels"

	DefaultReconnectAttempts = 3
	DefaultReconnectDelay    = 1 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultAckTimeout        = 10 * time.Second

	// DefaultRefreshLeeway is how long before expiry a credential is refreshed.
	DefaultRefreshLeeway = 30 * time.Second

	// DefaultSchema is used by the legacy OnEvent shorthand.
	DefaultSchema = "public"
)

// State is the connection state of a Channel.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Status is reported to status callbacks and returned by channel operations.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusClosed       Status = "CLOSED"
	StatusOK           Status = "ok"
	StatusError        Status = "error"
)

var (
	ErrAckTimeout    = errors.New("acknowledgment timed out")
	ErrTokenRejected = errors.New("access token rejected")
	ErrChannelClosed = errors.New("channel closed")
	ErrSuperseded    = errors.New("request superseded")
)

// StatusFunc receives subscription status changes. err is set for
// StatusChannelError and may be set for StatusClosed.
type StatusFunc func(status Status, err error)

// RefreshFunc returns a fresh credential.
type RefreshFunc func(ctx context.Context) (string, error)

// BroadcastConfig holds broadcast options
type BroadcastConfig struct {
	Ack        bool          `json:"ack"`  // wait for server ack
	Self       bool          `json:"self"` // receive own broadcasts
	AckTimeout time.Duration `json:"ack_timeout"`
}

// PresenceConfig holds presence options
type PresenceConfig struct {
	Key string `json:"key"` // presence key (e.g., user ID)
}

// ChannelConfig holds per-channel options. Two channels with the same topic
// and equal configs are the same channel.
type ChannelConfig struct {
	Broadcast BroadcastConfig `json:"broadcast"`
	Presence  PresenceConfig  `json:"presence"`
	Private   bool            `json:"private"`

	// ReconnectAttempts is the reconnect budget after an unexpected close.
	// Zero disables reconnection.
	ReconnectAttempts int           `json:"reconnect_attempts"`
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	// ReconnectMultiplier scales the delay after each attempt. 1 keeps it fixed.
	ReconnectMultiplier float64 `json:"reconnect_multiplier"`
	// HeartbeatInterval defaults to 30s. Negative disables heartbeats.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// Path overrides DefaultPath.
	Path string `json:"path"`
	// Table is used by the legacy OnEvent shorthand. Defaults to the last
	// ':'-separated segment of the topic.
	Table string `json:"table"`
}

// DefaultChannelConfig returns the default channel configuration.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Broadcast:           BroadcastConfig{AckTimeout: DefaultAckTimeout},
		ReconnectAttempts:   DefaultReconnectAttempts,
		ReconnectDelay:      DefaultReconnectDelay,
		ReconnectMultiplier: 1,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		Path:                DefaultPath,
	}
}

// withDefaults fills zero durations. ReconnectAttempts is left alone since
// zero is meaningful; callers that want the default start from
// DefaultChannelConfig.
func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.Broadcast.AckTimeout <= 0 {
		c.Broadcast.AckTimeout = DefaultAckTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = 1
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	} else if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	return c
}

// Options configures channels and directories.
type Options struct {
	// URL is the service base URL. http(s) schemes are mapped to ws(s).
	URL string
	// Params are extra query parameters such as apikey.
	Params map[string]string
	// Transport opens connections. Defaults to a websocket transport.
	Transport Transport
	// Metrics records channel activity. Nil disables metrics.
	Metrics *observability.Metrics
	// TracerProvider creates spans for subscribe and acknowledged sends.
	TracerProvider trace.TracerProvider
	// RefreshLeeway is how long before credential expiry the directory
	// invokes the refresh callback.
	RefreshLeeway time.Duration
}

func (o Options) withDefaults() Options {
	if o.Transport == nil {
		o.Transport = NewWebSocketTransport(nil)
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.RefreshLeeway <= 0 {
		o.RefreshLeeway = DefaultRefreshLeeway
	}
	return o
}
