// internal/realtime/channel.go
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/markb/sbrealtime/internal/log"
	"github.com/markb/sbrealtime/internal/observability"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// refreshTimeout bounds a credential refresh triggered by a rejected token.
const refreshTimeout = 10 * time.Second

// Channel is a subscription to one topic over its own connection.
//
// State moves idle -> connecting -> open. An unexpected close moves open back
// to connecting while a reconnect is pending, or to closed once the reconnect
// budget is spent. Unsubscribe moves any state to closed and suppresses
// reconnects.
type Channel struct {
	topic  string
	config ChannelConfig
	opts   Options
	tracer trace.Tracer

	registry *Registry
	presence *PresenceStore
	acks     *AckTracker
	// events delivers callbacks off the read goroutine.
	events *dispatcher

	// key is the directory cache key; zero for channels built directly.
	key uint64
	// scope is sent as a fixed subscribe criterion (execution log channels).
	scope *subscribeCriteria

	mu             sync.Mutex
	state          State
	conn           Conn
	generation     uint64 // bumped whenever conn is replaced or abandoned
	explicitClose  bool
	token          *string
	refresh        RefreshFunc
	statusCb       StatusFunc
	attempts       int
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	lastHeartbeat  time.Time
	tracked        map[string]any
	serverKey      string // server-assigned id from the subscribe ack
	fallbackKey    string
}

// NewChannel creates a channel that is not tracked by any directory. A nil
// cfg uses DefaultChannelConfig.
func NewChannel(topic string, cfg *ChannelConfig, opts Options) *Channel {
	config := DefaultChannelConfig()
	if cfg != nil {
		config = cfg.withDefaults()
	}
	return newChannel(topic, config, opts.withDefaults())
}

func newChannel(topic string, config ChannelConfig, opts Options) *Channel {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.ReconnectDelay
	b.Multiplier = config.ReconnectMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = maxDuration(config.ReconnectDelay, time.Minute)
	b.Reset()

	return &Channel{
		topic:       topic,
		config:      config,
		opts:        opts,
		tracer:      opts.TracerProvider.Tracer("github.com/markb/sbrealtime/internal/realtime"),
		registry:    NewRegistry(),
		events:      newDispatcher(),
		presence:    NewPresenceStore(),
		acks:        NewAckTracker(),
		state:       StateIdle,
		backoff:     b,
		fallbackKey: uuid.NewString(),
	}
}

// Topic returns the channel topic
func (c *Channel) Topic() string {
	return c.topic
}

// Config returns the effective channel configuration
func (c *Channel) Config() ChannelConfig {
	return c.config
}

// State returns the connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the current credential, or nil
func (c *Channel) Token() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyToken(c.token)
}

// LastHeartbeat returns when the server last sent a heartbeat
func (c *Channel) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Subscribe opens the connection and sends the subscribe message. It blocks
// until the transport is open or has failed. cb, when non-nil, replaces the
// status callback and receives SUBSCRIBED on every successful open
// (including reconnects) and CHANNEL_ERROR on failure. A failed initial
// connect is not retried. Calling Subscribe while connecting or open is a
// no-op.
func (c *Channel) Subscribe(ctx context.Context, cb StatusFunc) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	if cb != nil {
		c.statusCb = cb
	}
	c.state = StateConnecting
	c.explicitClose = false
	c.attempts = 0
	c.backoff.Reset()
	c.generation++
	gen := c.generation
	endpoint, err := c.endpointLocked()
	c.mu.Unlock()

	if err != nil {
		c.failConnect(gen, err, false)
		return err
	}
	return c.connect(ctx, gen, endpoint, false)
}

// connect opens a transport for generation gen. When reconnecting, failures
// feed the reconnect budget instead of ending the channel.
func (c *Channel) connect(ctx context.Context, gen uint64, endpoint string, reconnecting bool) error {
	ctx, span := c.tracer.Start(ctx, "realtime.subscribe", trace.WithAttributes(
		observability.AttrTopic.String(c.topic),
		observability.AttrReconnect.Bool(reconnecting),
	))
	defer span.End()

	conn, err := c.opts.Transport.Open(ctx, endpoint, &connHandler{ch: c, gen: gen})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("realtime: connect failed", "topic", c.topic, "error", err.Error())
		c.failConnect(gen, err, reconnecting)
		return err
	}

	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		// Unsubscribed or superseded while dialing.
		c.mu.Unlock()
		conn.Close(CloseNormal, "superseded")
		return nil
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.backoff.Reset()
	c.startHeartbeatLocked(gen)
	subscribe := NewSubscribeMessage(c.topic, c.criteriaLocked(), c.config)
	var track *OutboundMessage
	if c.tracked != nil {
		track = NewPresenceMessage(PresenceTrack, c.presenceKeyLocked(), c.tracked)
	}
	cb := c.statusCb
	c.mu.Unlock()

	c.opts.Metrics.ChannelOpened(ctx, c.topic)
	if err := c.write(conn, subscribe); err != nil {
		log.Warn("realtime: subscribe send failed", "topic", c.topic, "error", err.Error())
	}
	if track != nil {
		c.write(conn, track)
	}

	log.Debug("realtime: subscribed", "topic", c.topic, "reconnect", reconnecting)
	if cb != nil {
		cb(StatusSubscribed, nil)
	}
	return nil
}

// failConnect handles a failed dial for generation gen
func (c *Channel) failConnect(gen uint64, err error, reconnecting bool) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	cb := c.statusCb
	var closedErr error
	if reconnecting {
		closedErr = c.scheduleReconnectLocked(err)
	} else {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if cb != nil {
		cb(StatusChannelError, err)
		if closedErr != nil {
			cb(StatusClosed, closedErr)
		}
	}
}

// Unsubscribe sends the unsubscribe message and closes the connection. It
// always returns StatusOK. A channel that never connected is left untouched.
func (c *Channel) Unsubscribe() Status {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosed {
		c.mu.Unlock()
		return StatusOK
	}
	c.explicitClose = true
	c.state = StateClosed
	c.generation++
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.tracked = nil
	c.mu.Unlock()

	if conn != nil {
		c.write(conn, NewUnsubscribeMessage(c.topic))
		conn.Close(CloseNormal, "unsubscribe")
		c.opts.Metrics.ChannelClosed(context.Background(), c.topic)
	}
	c.acks.Clear(ErrChannelClosed)
	c.presence.Reset()
	log.Debug("realtime: unsubscribed", "topic", c.topic)
	return StatusOK
}

// On registers cb for events of kind matching criteria.
func (c *Channel) On(kind Kind, criteria Criteria, cb Callback) Handle {
	if kind == KindPostgresChanges && criteria.Filter != "" {
		if _, err := ParseFilter(criteria.Filter); err != nil {
			log.Warn("realtime: filter will be sent as is", "topic", c.topic, "filter", criteria.Filter, "error", err.Error())
		}
	}
	return c.registry.Add(kind, criteria, cb)
}

// OnEvent is the legacy shorthand for a postgres_changes subscription on the
// channel's table in the public schema. event is INSERT, UPDATE, DELETE or *.
func (c *Channel) OnEvent(event string, cb Callback) Handle {
	return c.On(KindPostgresChanges, Criteria{
		Event:  strings.ToUpper(event),
		Schema: DefaultSchema,
		Table:  c.inferredTable(),
	}, cb)
}

// Off removes a callback registered with On. Returns false if the handle is
// unknown.
func (c *Channel) Off(h Handle) bool {
	return c.registry.Remove(h)
}

// Send broadcasts a message. Without broadcast acks it returns StatusOK once
// the message is queued; with acks it waits for the server ack, the ack
// timeout or ctx, whichever comes first.
func (c *Channel) Send(ctx context.Context, event string, payload any) Status {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return StatusError
	}
	conn := c.conn
	id := uuid.NewString()
	ack := c.config.Broadcast.Ack
	msg := NewBroadcastMessage(id, event, payload, c.config.Broadcast.Self)
	c.mu.Unlock()

	if !ack {
		if err := c.write(conn, msg); err != nil {
			log.Debug("realtime: broadcast failed", "topic", c.topic, "error", err.Error())
			return StatusError
		}
		return StatusOK
	}

	ctx, span := c.tracer.Start(ctx, "realtime.broadcast", trace.WithAttributes(
		observability.AttrTopic.String(c.topic),
		observability.AttrEvent.String(event),
	))
	defer span.End()

	// Register before writing so a fast ack cannot be missed.
	fut := c.acks.Register(id, c.config.Broadcast.AckTimeout)
	if err := c.write(conn, msg); err != nil {
		c.acks.Reject(id, err)
	}
	if err := c.acks.Await(ctx, id, fut); err != nil {
		if errors.Is(err, ErrAckTimeout) {
			c.opts.Metrics.AckTimeout(ctx, c.topic)
		}
		span.SetStatus(codes.Error, err.Error())
		log.Debug("realtime: broadcast not acknowledged", "topic", c.topic, "message_id", id, "error", err.Error())
		return StatusError
	}
	return StatusOK
}

// Track publishes the caller's presence state under the channel's presence
// key. It is not acknowledged. The state is re-sent after a reconnect.
func (c *Channel) Track(state map[string]any) Status {
	c.mu.Lock()
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return StatusError
	}
	conn := c.conn
	tracked := make(map[string]any, len(state))
	for k, v := range state {
		tracked[k] = v
	}
	c.tracked = tracked
	msg := NewPresenceMessage(PresenceTrack, c.presenceKeyLocked(), tracked)
	c.mu.Unlock()

	if err := c.write(conn, msg); err != nil {
		return StatusError
	}
	return StatusOK
}

// Untrack withdraws the caller's presence. Nothing tracked is StatusOK
// without sending anything.
func (c *Channel) Untrack() Status {
	c.mu.Lock()
	if c.tracked == nil {
		c.mu.Unlock()
		return StatusOK
	}
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return StatusError
	}
	conn := c.conn
	c.tracked = nil
	msg := NewPresenceMessage(PresenceUntrack, c.presenceKeyLocked(), nil)
	c.mu.Unlock()

	if err := c.write(conn, msg); err != nil {
		return StatusError
	}
	return StatusOK
}

// PresenceState returns a snapshot of the server-reported presence state
func (c *Channel) PresenceState() map[string][]map[string]any {
	return c.presence.Snapshot()
}

// UpdateToken rotates the channel credential. A nil token forces a
// reconnect. An equal token is a no-op. While open, the new token is sent
// as an access_token message; a rejection or missing ack forces a reconnect
// with the stored token. While not open the token is kept for the next
// connection.
func (c *Channel) UpdateToken(token *string) {
	c.mu.Lock()
	if token == nil {
		c.token = nil
		c.mu.Unlock()
		c.forceReconnect(0, "credential cleared")
		return
	}
	if c.token != nil && *c.token == *token {
		c.mu.Unlock()
		return
	}
	c.token = copyToken(token)
	if c.state != StateOpen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	gen := c.generation
	fut := c.acks.Register(tokenAckID, c.config.Broadcast.AckTimeout)
	c.mu.Unlock()

	if err := c.write(conn, NewAccessTokenMessage(*token)); err != nil {
		c.acks.Reject(tokenAckID, err)
	}

	go func() {
		_, err := fut.Get()
		switch err {
		case nil, ErrSuperseded, ErrChannelClosed:
			return
		case ErrAckTimeout:
			c.opts.Metrics.AckTimeout(context.Background(), c.topic)
		}
		log.Warn("realtime: access token not accepted, reconnecting", "topic", c.topic, "error", err.Error())
		if err == ErrTokenRejected {
			c.refreshToken()
		}
		c.forceReconnect(gen, "access token rejected")
	}()
}

// setRefreshFunc installs the credential refresh callback
func (c *Channel) setRefreshFunc(fn RefreshFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh = fn
}

// refreshToken asks the refresh callback for a new credential and stores it
// for the next connection.
func (c *Channel) refreshToken() {
	c.mu.Lock()
	fn := c.refresh
	c.mu.Unlock()
	if fn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	token, err := fn(ctx)
	if err != nil {
		log.Warn("realtime: credential refresh failed", "topic", c.topic, "error", err.Error())
		return
	}
	c.mu.Lock()
	c.token = &token
	c.mu.Unlock()
}

// forceReconnect drops the current connection and dials again. gen limits
// the reconnect to a specific connection; zero means the current one.
func (c *Channel) forceReconnect(gen uint64, reason string) {
	c.mu.Lock()
	if c.explicitClose || (c.state != StateOpen && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	if gen != 0 && gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.stopReconnectLocked()
	c.state = StateConnecting
	c.generation++
	next := c.generation
	endpoint, err := c.endpointLocked()
	c.mu.Unlock()

	c.acks.Reject(tokenAckID, ErrSuperseded)
	if conn != nil {
		conn.Close(CloseNormal, reason)
		c.opts.Metrics.ChannelClosed(context.Background(), c.topic)
	}
	c.opts.Metrics.Reconnect(context.Background(), c.topic)
	log.Info("realtime: reconnecting", "topic", c.topic, "reason", reason)

	if err != nil {
		c.failConnect(next, err, true)
		return
	}
	go c.connect(context.Background(), next, endpoint, true)
}

// handleClose reacts to the end of connection gen
func (c *Channel) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	hadConn := c.conn != nil
	c.conn = nil
	if c.explicitClose || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	log.Info("realtime: connection closed", "topic", c.topic, "code", code, "reason", reason)
	c.generation++
	closedErr := c.scheduleReconnectLocked(fmt.Errorf("connection closed: %d %s", code, reason))
	cb := c.statusCb
	c.mu.Unlock()

	if hadConn {
		c.opts.Metrics.ChannelClosed(context.Background(), c.topic)
	}
	if closedErr != nil {
		c.acks.Clear(ErrChannelClosed)
		if cb != nil {
			cb(StatusClosed, closedErr)
		}
	}
}

// scheduleReconnectLocked arms the reconnect timer, or closes the channel
// when the budget is spent and returns the reason.
func (c *Channel) scheduleReconnectLocked(cause error) error {
	if c.config.ReconnectAttempts <= 0 || c.attempts >= c.config.ReconnectAttempts {
		c.state = StateClosed
		log.Warn("realtime: giving up on channel", "topic", c.topic, "attempts", c.attempts)
		return fmt.Errorf("reconnect attempts exhausted after %d tries: %w", c.attempts, cause)
	}
	c.attempts++
	delay := c.backoff.NextBackOff()
	c.state = StateConnecting
	c.stopReconnectLocked()
	gen := c.generation
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnect(gen)
	})
	log.Debug("realtime: reconnect scheduled", "topic", c.topic, "attempt", c.attempts, "delay", delay.String())
	return nil
}

// reconnect runs when the reconnect timer fires
func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if c.explicitClose || c.state != StateConnecting || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.generation++
	next := c.generation
	endpoint, err := c.endpointLocked()
	c.mu.Unlock()

	c.opts.Metrics.Reconnect(context.Background(), c.topic)
	if err != nil {
		c.failConnect(next, err, true)
		return
	}
	c.connect(context.Background(), next, endpoint, true)
}

// handleMessage routes one inbound frame of connection gen
func (c *Channel) handleMessage(gen uint64, data []byte) {
	c.mu.Lock()
	current := gen == c.generation
	c.mu.Unlock()
	if !current {
		return
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		n := len(data)
		if n > 100 {
			n = 100
		}
		log.Warn("realtime: discarding malformed frame", "topic", c.topic, "error", err.Error(), "raw", string(data[:n]))
		return
	}
	c.opts.Metrics.MessageReceived(context.Background(), c.topic, msg.messageType())

	switch m := msg.(type) {
	case *PostgresChangesMessage:
		change := m.Change
		c.dispatch(Event{Kind: KindPostgresChanges, Type: change.Type, PostgresChange: &change})

	case *BroadcastMessage:
		b := m.Broadcast
		if b.Self && !c.config.Broadcast.Self {
			return
		}
		c.dispatch(Event{Kind: KindBroadcast, Type: b.Event, Broadcast: &b})

	case *PresenceMessage:
		p := m.Presence
		if !c.presence.Apply(p) {
			log.Debug("realtime: unknown presence event", "topic", c.topic, "event", p.Event)
		}
		c.dispatch(Event{Kind: KindPresence, Type: p.Event, Presence: &p})

	case *AckMessage:
		c.handleAck(m)

	case *ErrorMessage:
		if c.acks.Reject(tokenAckID, ErrTokenRejected) {
			return
		}
		log.Warn("realtime: server error", "topic", c.topic, "error", m.Error)

	case *ExecutionLogMessage:
		entry := m.Log
		c.dispatch(Event{Kind: KindExecutionLog, Type: TypeExecutionLog, ExecutionLog: &entry})

	case *HeartbeatMessage:
		c.mu.Lock()
		c.lastHeartbeat = time.Now()
		c.mu.Unlock()

	case *UnknownMessage:
		log.Debug("realtime: unknown message type", "topic", c.topic, "type", m.Type)
	}
}

// handleAck resolves a pending request. Acks with a message id belong to
// broadcasts; acks without one answer a subscribe or a token rotation.
func (c *Channel) handleAck(m *AckMessage) {
	if m.MessageID != "" {
		if !c.acks.Resolve(m.MessageID) {
			log.Debug("realtime: ack for unknown message", "topic", c.topic, "message_id", m.MessageID)
		}
		return
	}
	switch m.Payload.Type {
	case TypeSubscribe:
		if m.Payload.SubscriptionID != "" {
			c.mu.Lock()
			c.serverKey = m.Payload.SubscriptionID
			c.mu.Unlock()
		}
	case TypeAccessToken, "":
		c.acks.Resolve(tokenAckID)
	default:
		log.Debug("realtime: unhandled ack", "topic", c.topic, "type", m.Payload.Type)
	}
}

// dispatch queues ev for every callback matching at delivery time. A
// panicking callback is logged and does not stop the others.
func (c *Channel) dispatch(ev Event) {
	c.events.enqueue(func() {
		for _, cb := range c.registry.Match(ev) {
			c.invoke(cb, ev)
		}
	})
}

func (c *Channel) invoke(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Metrics.CallbackPanic(context.Background(), c.topic)
			log.Error("realtime: callback panicked", "topic", c.topic, "kind", string(ev.Kind), "event", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	cb(ev)
}

// write encodes and queues msg on conn
func (c *Channel) write(conn Conn, msg *OutboundMessage) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := conn.Send(data); err != nil {
		return err
	}
	c.opts.Metrics.MessageSent(context.Background(), c.topic, msg.Type)
	return nil
}

// startHeartbeatLocked starts the heartbeat loop for connection gen
func (c *Channel) startHeartbeatLocked(gen uint64) {
	c.stopHeartbeatLocked()
	if c.config.HeartbeatInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.heartbeatStop = stop
	interval := c.config.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sendHeartbeat(gen)
			case <-stop:
				return
			}
		}
	}()
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Channel) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Channel) sendHeartbeat(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, NewHeartbeatMessage()); err != nil {
		log.Debug("realtime: heartbeat failed", "topic", c.topic, "error", err.Error())
	}
}

// criteriaLocked lists the criteria announced in the subscribe message
func (c *Channel) criteriaLocked() []subscribeCriteria {
	var out []subscribeCriteria
	if c.scope != nil {
		out = append(out, *c.scope)
	}
	for _, cr := range c.registry.Criteria(KindPostgresChanges) {
		out = append(out, subscribeCriteria{Kind: KindPostgresChanges, Criteria: cr})
	}
	return out
}

// presenceKeyLocked returns the configured key, the server-assigned id, or a
// per-channel random id, in that order.
func (c *Channel) presenceKeyLocked() string {
	if c.config.Presence.Key != "" {
		return c.config.Presence.Key
	}
	if c.serverKey != "" {
		return c.serverKey
	}
	return c.fallbackKey
}

func (c *Channel) inferredTable() string {
	if c.config.Table != "" {
		return c.config.Table
	}
	if i := strings.LastIndex(c.topic, ":"); i >= 0 {
		return c.topic[i+1:]
	}
	return c.topic
}

// endpointLocked builds the connection URL: base URL, channel path and
// escaped topic, with the credential and extra params merged into any query
// already on the base URL.
func (c *Channel) endpointLocked() (string, error) {
	return buildEndpoint(c.opts.URL, c.config.Path, c.topic, c.token, c.opts.Params)
}

func buildEndpoint(base, path, topic string, token *string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid base url scheme %q", u.Scheme)
	}

	prefix := strings.TrimSuffix(u.Path, "/") + "/" + strings.Trim(path, "/")
	escaped := (&url.URL{Path: prefix}).EscapedPath()
	u.Path = prefix + "/" + topic
	u.RawPath = escaped + "/" + url.PathEscape(topic)

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	if token != nil {
		q.Set("access_token", *token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connHandler ties a transport to one connection generation of a channel
type connHandler struct {
	ch  *Channel
	gen uint64
}

func (h *connHandler) HandleMessage(data []byte) {
	h.ch.handleMessage(h.gen, data)
}

func (h *connHandler) HandleClose(code int, reason string) {
	h.ch.handleClose(h.gen, code, reason)
}

func copyToken(token *string) *string {
	if token == nil {
		return nil
	}
	t := *token
	return &t
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
