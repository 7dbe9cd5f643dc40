// internal/realtime/mock_test.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

var errDial = errors.New("dial refused")

// mockTransport hands out in-memory connections and can be told to fail.
type mockTransport struct {
	mu       sync.Mutex
	urls     []string
	failures int // Opens left to fail; negative fails forever
	conns    chan *mockConn
}

func newMockTransport() *mockTransport {
	return &mockTransport{conns: make(chan *mockConn, 32)}
}

func (m *mockTransport) Open(ctx context.Context, url string, h ConnHandler) (Conn, error) {
	m.mu.Lock()
	m.urls = append(m.urls, url)
	if m.failures != 0 {
		if m.failures > 0 {
			m.failures--
		}
		m.mu.Unlock()
		return nil, errDial
	}
	m.mu.Unlock()

	c := &mockConn{handler: h, sent: make(chan Frame, 256)}
	m.conns <- c
	return c, nil
}

func (m *mockTransport) fail(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
}

func (m *mockTransport) dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.urls)
}

func (m *mockTransport) lastURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.urls) == 0 {
		return ""
	}
	return m.urls[len(m.urls)-1]
}

func (m *mockTransport) waitConn(t *testing.T) *mockConn {
	t.Helper()
	select {
	case c := <-m.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("no connection opened")
		return nil
	}
}

func (m *mockTransport) noConn(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-m.conns:
		t.Fatal("unexpected connection")
	case <-time.After(wait):
	}
}

// Frame is one decoded outbound message.
type Frame map[string]any

func (f Frame) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f Frame) payload() map[string]any {
	p, _ := f["payload"].(map[string]any)
	return p
}

type mockConn struct {
	handler ConnHandler
	sent    chan Frame

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeOnce sync.Once
}

func (c *mockConn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.sent <- f
	return nil
}

// Close mirrors the websocket transport: the handler hears about the close
// asynchronously.
func (c *mockConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closed = true
	c.closeCode = code
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		go c.handler.HandleClose(code, reason)
	})
	return nil
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// serverClose ends the connection from the server side.
func (c *mockConn) serverClose(code int, reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		c.handler.HandleClose(code, reason)
	})
}

// push delivers v to the channel as an inbound frame.
func (c *mockConn) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	c.handler.HandleMessage(data)
	settle(c.handler)
}

func (c *mockConn) expect(t *testing.T, typ string) Frame {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case f := <-c.sent:
			if f.str("type") == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame sent", typ)
			return nil
		}
	}
}

func (c *mockConn) quiet(t *testing.T, typ string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case f := <-c.sent:
			if f.str("type") == typ {
				t.Fatalf("unexpected %s frame: %v", typ, f)
			}
		case <-deadline:
			return
		}
	}
}

// statusRecorder collects status callback invocations.
type statusRecorder struct {
	mu     sync.Mutex
	events []Status
	errs   []error
	ch     chan Status
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{ch: make(chan Status, 64)}
}

func (r *statusRecorder) callback(status Status, err error) {
	r.mu.Lock()
	r.events = append(r.events, status)
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- status
}

func (r *statusRecorder) count(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.events {
		if s == status {
			n++
		}
	}
	return n
}

func (r *statusRecorder) wait(t *testing.T, want Status) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %s not reported", want)
		}
	}
}

func testOptions(tr Transport) Options {
	return Options{URL: "https://example.test", Transport: tr}
}

// fastConfig keeps reconnects and acks short enough for tests.
func fastConfig() *ChannelConfig {
	cfg := DefaultChannelConfig()
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.Broadcast.AckTimeout = 100 * time.Millisecond
	cfg.HeartbeatInterval = -1
	return &cfg
}

// settle waits until callbacks queued by the handler's channel have run.
func settle(h ConnHandler) {
	if ch, ok := h.(*connHandler); ok {
		ch.ch.events.wait()
	}
}
