// internal/observability/metrics.go
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the realtime client instruments. A nil *Metrics records
// nothing, so callers never need to check whether telemetry is enabled.
type Metrics struct {
	MessagesReceived metric.Int64Counter
	MessagesSent     metric.Int64Counter
	Reconnects       metric.Int64Counter
	AckTimeouts      metric.Int64Counter
	CallbackPanics   metric.Int64Counter
	OpenChannels     metric.Int64UpDownCounter
}

// InitMetrics initializes and returns metric instruments.
func InitMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("sbrealtime")

	m := &Metrics{}

	var err error
	m.MessagesReceived, err = meter.Int64Counter(
		"realtime.messages.received",
		metric.WithDescription("Number of inbound realtime messages"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages received counter: %w", err)
	}

	m.MessagesSent, err = meter.Int64Counter(
		"realtime.messages.sent",
		metric.WithDescription("Number of outbound realtime messages"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages sent counter: %w", err)
	}

	m.Reconnects, err = meter.Int64Counter(
		"realtime.reconnects",
		metric.WithDescription("Number of reconnect attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconnects counter: %w", err)
	}

	m.AckTimeouts, err = meter.Int64Counter(
		"realtime.ack.timeouts",
		metric.WithDescription("Number of acknowledgements that timed out"),
		metric.WithUnit("{ack}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ack timeouts counter: %w", err)
	}

	m.CallbackPanics, err = meter.Int64Counter(
		"realtime.callback.panics",
		metric.WithDescription("Number of recovered callback panics"),
		metric.WithUnit("{panic}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback panics counter: %w", err)
	}

	m.OpenChannels, err = meter.Int64UpDownCounter(
		"realtime.channels.open",
		metric.WithDescription("Number of open channel connections"),
		metric.WithUnit("{channel}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create open channels counter: %w", err)
	}

	return m, nil
}

// ChannelOpened records a channel connection reaching the open state.
func (m *Metrics) ChannelOpened(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.OpenChannels.Add(ctx, 1, metric.WithAttributes(AttrTopic.String(topic)))
}

// ChannelClosed records an open channel connection going away.
func (m *Metrics) ChannelClosed(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.OpenChannels.Add(ctx, -1, metric.WithAttributes(AttrTopic.String(topic)))
}

// Reconnect records one reconnect attempt.
func (m *Metrics) Reconnect(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(AttrTopic.String(topic)))
}

// AckTimeout records an acknowledgement that never arrived.
func (m *Metrics) AckTimeout(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.AckTimeouts.Add(ctx, 1, metric.WithAttributes(AttrTopic.String(topic)))
}

// MessageReceived records one decoded inbound message.
func (m *Metrics) MessageReceived(ctx context.Context, topic, msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(
		AttrTopic.String(topic),
		AttrMessageType.String(msgType),
	))
}

// MessageSent records one queued outbound message.
func (m *Metrics) MessageSent(ctx context.Context, topic, msgType string) {
	if m == nil {
		return
	}
	m.MessagesSent.Add(ctx, 1, metric.WithAttributes(
		AttrTopic.String(topic),
		AttrMessageType.String(msgType),
	))
}

// CallbackPanic records a recovered panic in a user callback.
func (m *Metrics) CallbackPanic(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	m.CallbackPanics.Add(ctx, 1, metric.WithAttributes(AttrTopic.String(topic)))
}
