package client

import "errors"

var (
	// ErrMisconfigured is returned by Open when the credential, room or
	// endpoint is missing. It is not retried.
	ErrMisconfigured = errors.New("client: misconfigured")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("client: already open")

	// ErrClosed is returned when the manager has been closed.
	ErrClosed = errors.New("client: closed")

	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrHandshake is returned when the broker does not answer CONNECT with CONNECTED.
	ErrHandshake = errors.New("client: handshake failed")

	// ErrHeartbeatTimeout is returned when the broker stays silent past the heart-beat tolerance.
	ErrHeartbeatTimeout = errors.New("client: heart-beat timeout")

	// ErrBrokerError is returned when the broker sends an ERROR frame.
	ErrBrokerError = errors.New("client: broker error")

	// ErrSubscribeFailed is returned when a SUBSCRIBE frame cannot be sent.
	ErrSubscribeFailed = errors.New("client: subscribe failed")
)
