// internal/observability/tracer.go
package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attributes recorded by the realtime client.
var (
	AttrTopic       = attribute.Key("realtime.topic")
	AttrMessageType = attribute.Key("realtime.message_type")
	AttrEvent       = attribute.Key("realtime.event")
	AttrReconnect   = attribute.Key("realtime.reconnect")
)
