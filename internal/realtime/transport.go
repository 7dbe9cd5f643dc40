// internal/realtime/transport.go
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/markb/sbrealtime/internal/log"
)

const (
	// Send buffer size for outbound messages
	sendBufferSize = 256

	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = 50 * time.Second

	// Maximum message size
	maxMessageSize = 512 * 1024 // 512KB
)

// Close codes used by the client
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// ConnHandler receives events from an open connection. HandleMessage is
// called for every text frame in delivery order; HandleClose is called
// exactly once when the connection ends for any reason.
type ConnHandler interface {
	HandleMessage(data []byte)
	HandleClose(code int, reason string)
}

// Conn is an open message-oriented connection.
type Conn interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// Transport opens connections. Open blocks until the connection is open or
// has failed.
type Transport interface {
	Open(ctx context.Context, url string, handler ConnHandler) (Conn, error)
}

// WebSocketTransport opens gorilla websocket connections.
type WebSocketTransport struct {
	dialer *websocket.Dialer
	header http.Header
}

// NewWebSocketTransport creates a transport. A nil dialer uses
// websocket.DefaultDialer.
func NewWebSocketTransport(dialer *websocket.Dialer) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketTransport{dialer: dialer, header: http.Header{}}
}

// WithHeader returns a copy of the transport that sends header on dial.
func (t *WebSocketTransport) WithHeader(key, value string) *WebSocketTransport {
	header := t.header.Clone()
	header.Set(key, value)
	return &WebSocketTransport{dialer: t.dialer, header: header}
}

// Open dials url and starts the read and write pumps
func (t *WebSocketTransport) Open(ctx context.Context, url string, handler ConnHandler) (Conn, error) {
	ws, resp, err := t.dialer.DialContext(ctx, url, t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	conn := &wsConn{
		ws:       ws,
		handler:  handler,
		send:     make(chan []byte, sendBufferSize),
		closeReq: make(chan []byte, 1),
		done:     make(chan struct{}),
	}
	go conn.writePump()
	go conn.readPump()
	return conn, nil
}

// wsConn is a client websocket connection
type wsConn struct {
	ws        *websocket.Conn
	handler   ConnHandler
	send      chan []byte   // outbound message queue
	closeReq  chan []byte   // close frame queued behind pending sends
	done      chan struct{} // closed when connection ends
	closeOnce sync.Once
	doneOnce  sync.Once
	closed    sync.Once
}

// Send queues a message for sending
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrBufferFull
	}
}

// Close flushes queued messages, sends a close frame and tears the
// connection down. It does not wait for the server's close reply.
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeReq <- websocket.FormatCloseMessage(code, reason)
	})
	return nil
}

// shutdown ends the connection without a close frame
func (c *wsConn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// notifyClose reports the close exactly once
func (c *wsConn) notifyClose(code int, reason string) {
	c.closed.Do(func() {
		c.handler.HandleClose(code, reason)
	})
}

// readPump reads messages from the WebSocket connection
func (c *wsConn) readPump() {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			code, reason := CloseAbnormal, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("realtime: read error", "error", err.Error())
			}
			c.notifyClose(code, reason)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handler.HandleMessage(data)
	}
}

// writePump writes messages to the WebSocket connection
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("realtime: write error", "error", err.Error())
				c.shutdown()
				return
			}

		case msg := <-c.closeReq:
			c.flush()
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			c.shutdown()
			return

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			return
		}
	}
}

// flush writes whatever is still queued
func (c *wsConn) flush() {
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
