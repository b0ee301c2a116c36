// Package transport defines the message-oriented connection the STOMP client runs over.
package transport

import (
	"context"
	"net/http"
)

// Conn abstracts a bidirectional, message-framed connection to the broker.
// It isolates WebSocket details from the STOMP session logic.
type Conn interface {
	// Read reads a single transport message (one or more STOMP frames or a heart-beat).
	// Returns an error once the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single transport message.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. Safe to call more than once.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens a Conn to endpoint, sending header with the handshake request.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string, header http.Header) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	return f(ctx, endpoint, header)
}
