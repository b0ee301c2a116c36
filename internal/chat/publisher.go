package chat

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/metrics"
)

const contentTypeJSON = "application/json"

// Sender writes frames on a live connection. *client.Manager implements it.
type Sender interface {
	IsConnected() bool
	Send(destination, contentType string, body []byte) error
}

// Publisher sends outbound events for one room.
type Publisher struct {
	sender  Sender
	room    RoomID
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewPublisher creates a publisher. sender may be nil, in which case every
// publish is rejected with ErrNoClient.
func NewPublisher(sender Sender, room RoomID, log *zap.Logger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{sender: sender, room: room, log: log, metrics: m}
}

// Publish sends payload as kind without waiting for any acknowledgement.
// A nil payload is sent as {}. Failed preconditions return an error
// wrapping ErrPublishRejected and perform no I/O.
func (p *Publisher) Publish(kind Kind, payload any) error {
	if p == nil {
		return ErrNoClient
	}
	if err := p.check(); err != nil {
		p.log.Debug("publish rejected", zap.Stringer("kind", kind), zap.Error(err))
		p.metrics.PublishRejected(rejectReason(err))
		return err
	}

	dest, err := Destination(p.room, kind)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	if err := p.sender.Send(dest, contentTypeJSON, body); err != nil {
		p.log.Warn("publish failed", zap.String("destination", dest), zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	p.metrics.Published(kind.String())
	return nil
}

// check evaluates the preconditions in order.
func (p *Publisher) check() error {
	switch {
	case p.sender == nil:
		return ErrNoClient
	case !p.sender.IsConnected():
		return ErrNotConnected
	case p.room == "":
		return ErrNoRoom
	}
	return nil
}

func rejectReason(err error) string {
	switch err {
	case ErrNoClient:
		return "no_client"
	case ErrNotConnected:
		return "not_connected"
	default:
		return "no_room"
	}
}
