// Package ws provides the WebSocket transport for the STOMP client.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/direct-chat/internal/transport"
)

// Conn adapts gorilla/websocket to transport.Conn.
// STOMP frames travel as text messages.
type Conn struct {
	conn         *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewConn wraps a websocket.Conn. A zero writeTimeout disables write deadlines.
func NewConn(conn *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

// Read implements transport.Conn.
// A deadline on ctx becomes the read deadline; cancellation without a
// deadline is observed only when the connection is closed.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Write implements transport.Conn.
// Callers serialize writes; gorilla allows one concurrent writer.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if c.writeTimeout > 0 {
		if d := time.Now().Add(c.writeTimeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	if ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Dialer dials broker endpoints with gorilla/websocket.
type Dialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewDialer returns a Dialer with the given handshake and write timeouts.
func NewDialer(handshakeTimeout, writeTimeout time.Duration) *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		},
		writeTimeout: writeTimeout,
	}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint string, header http.Header) (transport.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return NewConn(conn, d.writeTimeout), nil
}

var _ transport.Dialer = (*Dialer)(nil)
