// internal/realtimetest/server.go

// Package realtimetest provides an in-process realtime server for tests.
//
// The server speaks enough of the channel protocol to drive a client end to
// end: it acknowledges subscribe, broadcast and access_token messages,
// relays broadcasts between connections on the same topic, keeps presence
// per topic, and records every frame it receives. Tests can push arbitrary
// frames and drop connections to exercise reconnects.
package realtimetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ChannelPath is the route the server accepts connections on.
const ChannelPath = "/realtime/v1/channels"

// Option configures a Server.
type Option func(*Server)

// WithoutBroadcastAcks stops the server from acknowledging broadcasts.
func WithoutBroadcastAcks() Option {
	return func(s *Server) { s.ackBroadcasts = false }
}

// WithoutSubscribeAcks stops the server from acknowledging subscribes.
func WithoutSubscribeAcks() Option {
	return func(s *Server) { s.ackSubscribes = false }
}

// RejectTokens makes the server answer every access_token with an error.
func RejectTokens() Option {
	return func(s *Server) { s.rejectTokens = true }
}

// Server is a fake realtime server backed by httptest.
type Server struct {
	// URL is the http base URL of the server.
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	ackBroadcasts bool
	ackSubscribes bool
	rejectTokens  bool

	mu       sync.Mutex
	refuse   bool
	conns    []*Conn
	presence map[string]map[string][]map[string]any // topic -> key -> entries
	arrivals chan *Conn
}

// New starts a server and registers its shutdown with t.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ackBroadcasts: true,
		ackSubscribes: true,
		presence:      make(map[string]map[string][]map[string]any),
		arrivals:      make(chan *Conn, 64),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get(ChannelPath+"/{topic}", s.handleChannel)
	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	for _, c := range s.Conns() {
		c.Drop()
	}
	s.srv.Close()
}

// Refuse makes new connection attempts fail with 503 until called with false.
func (s *Server) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// Conns returns every connection accepted so far, open or not.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

// WaitConn returns the next accepted connection, failing t after timeout.
func (s *Server) WaitConn(t testing.TB, timeout time.Duration) *Conn {
	t.Helper()
	select {
	case c := <-s.arrivals:
		return c
	case <-time.After(timeout):
		t.Fatalf("realtimetest: no connection within %s", timeout)
		return nil
	}
}

// NoConn fails t if a connection arrives within wait.
func (s *Server) NoConn(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case c := <-s.arrivals:
		t.Fatalf("realtimetest: unexpected connection for topic %q", c.Topic)
	case <-time.After(wait):
	}
}

// Presence returns the presence state the server holds for topic.
func (s *Server) Presence(topic string) map[string][]map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]map[string]any)
	for k, v := range s.presence[topic] {
		out[k] = append([]map[string]any(nil), v...)
	}
	return out
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	topic, err := url.PathUnescape(chi.URLParam(r, "topic"))
	if err != nil {
		http.Error(w, "bad topic", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{
		Topic:  topic,
		Query:  r.URL.Query(),
		ws:     ws,
		server: s,
		frames: make(chan Frame, 256),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	select {
	case s.arrivals <- c:
	default:
	}

	go c.readLoop()
}

// handle applies the server side of the protocol to one frame from c
func (s *Server) handle(c *Conn, f Frame) {
	switch f.Type() {
	case "subscribe":
		if s.ackSubscribes {
			c.Push(map[string]any{
				"type":    "ack",
				"payload": map[string]any{"type": "subscribe", "subscription_id": uuid.NewString()},
			})
		}

	case "broadcast":
		if id := f.String("messageId"); id != "" && s.ackBroadcasts {
			c.Push(map[string]any{"type": "ack", "messageId": id})
		}
		self, _ := f["self"].(bool)
		for _, peer := range s.peers(c.Topic) {
			if peer == c && !self {
				continue
			}
			peer.Push(map[string]any{
				"type": "broadcast",
				"payload": map[string]any{"broadcast": map[string]any{
					"event":   f.String("event"),
					"payload": f["payload"],
					"self":    peer == c,
				}},
			})
		}

	case "presence":
		payload, _ := f["payload"].(map[string]any)
		key, _ := payload["key"].(string)
		switch f.String("event") {
		case "track":
			entry := make(map[string]any, len(payload))
			for k, v := range payload {
				if k != "key" {
					entry[k] = v
				}
			}
			entry["presence_ref"] = uuid.NewString()
			s.track(c, key, entry)
		case "untrack":
			s.untrack(c.Topic, key)
		}

	case "access_token":
		if s.rejectTokens {
			c.Push(map[string]any{"type": "error", "error": "invalid access token"})
			return
		}
		c.Push(map[string]any{"type": "ack", "payload": map[string]any{"type": "access_token"}})
	}
}

func (s *Server) peers(topic string) []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Conn
	for _, c := range s.conns {
		if c.Topic == topic && !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) track(c *Conn, key string, entry map[string]any) {
	s.mu.Lock()
	state := s.presence[c.Topic]
	if state == nil {
		state = make(map[string][]map[string]any)
		s.presence[c.Topic] = state
	}
	state[key] = []map[string]any{entry}
	c.trackedKey = key
	s.mu.Unlock()

	for _, peer := range s.peers(c.Topic) {
		peer.Push(map[string]any{
			"type": "presence",
			"payload": map[string]any{"presence": map[string]any{
				"event":        "join",
				"key":          key,
				"newPresences": []map[string]any{entry},
			}},
		})
	}
}

func (s *Server) untrack(topic, key string) {
	s.mu.Lock()
	left, ok := s.presence[topic][key]
	delete(s.presence[topic], key)
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, peer := range s.peers(topic) {
		peer.Push(map[string]any{
			"type": "presence",
			"payload": map[string]any{"presence": map[string]any{
				"event":         "leave",
				"key":           key,
				"leftPresences": left,
			}},
		})
	}
}

// Frame is one decoded client message.
type Frame map[string]any

// Type returns the message type.
func (f Frame) Type() string {
	return f.String("type")
}

// String returns field key as a string, or "".
func (f Frame) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Payload returns the payload object, or nil.
func (f Frame) Payload() map[string]any {
	p, _ := f["payload"].(map[string]any)
	return p
}

// Conn is one client connection as seen by the server.
type Conn struct {
	Topic string
	Query url.Values

	ws     *websocket.Conn
	server *Server
	frames chan Frame

	writeMu    sync.Mutex
	closeOnce  sync.Once
	done       chan struct{}
	trackedKey string // guarded by server.mu
}

// Token returns the access_token the client connected with.
func (c *Conn) Token() string {
	return c.Query.Get("access_token")
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Push writes v as a JSON text frame.
func (c *Conn) Push(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.PushRaw(data)
}

// PushRaw writes data as a text frame unchanged.
func (c *Conn) PushRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// CloseWith sends a close frame with code and reason, then drops the
// connection.
func (c *Conn) CloseWith(code int, reason string) {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.Drop()
}

// Drop closes the socket without a close frame.
func (c *Conn) Drop() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Next returns the next received frame, failing t after timeout.
func (c *Conn) Next(t testing.TB, timeout time.Duration) Frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("realtimetest: no frame on %q within %s", c.Topic, timeout)
		return nil
	}
}

// Expect skips frames until one of type typ arrives, failing t after
// timeout.
func (c *Conn) Expect(t testing.TB, typ string, timeout time.Duration) Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-c.frames:
			if f.Type() == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("realtimetest: no %s frame on %q within %s", typ, c.Topic, timeout)
			return nil
		}
	}
}

// Quiet fails t if a frame of type typ arrives within wait.
func (c *Conn) Quiet(t testing.TB, typ string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case f := <-c.frames:
			if f.Type() == typ {
				t.Fatalf("realtimetest: unexpected %s frame on %q: %v", typ, c.Topic, f)
			}
		case <-deadline:
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.Drop()
		c.server.mu.Lock()
		key := c.trackedKey
		c.server.mu.Unlock()
		if key != "" {
			c.server.untrack(c.Topic, key)
		}
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		select {
		case c.frames <- f:
		default:
		}
		c.server.handle(c, f)
	}
}
