package chat

import (
	"errors"
	"fmt"

	"github.com/omochice/direct-chat/internal/client"
)

var (
	// ErrMisconfigured is returned by Open when the room or credential is
	// missing or the configuration is invalid. It is never retried.
	ErrMisconfigured = client.ErrMisconfigured

	// ErrClosed is returned by Service.Join after Close.
	ErrClosed = client.ErrClosed

	// ErrMalformedPayload marks an inbound body that could not be decoded.
	// Such frames are logged and dropped.
	ErrMalformedPayload = errors.New("chat: malformed payload")

	// ErrPublishRejected is returned when a publish precondition fails.
	// Nothing is written to the transport.
	ErrPublishRejected = errors.New("chat: publish rejected")

	ErrNoClient     = fmt.Errorf("%w: no client", ErrPublishRejected)
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrPublishRejected)
	ErrNoRoom       = fmt.Errorf("%w: no room", ErrPublishRejected)
)
