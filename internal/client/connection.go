package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/metrics"
	"github.com/omochice/direct-chat/internal/transport"
	"github.com/omochice/direct-chat/pkg/stomp"
)

// Handler receives MESSAGE frames for a subscription.
type Handler func(frame stomp.Frame)

// Subscription is a destination subscribed on one Connection.
// It does not survive the Connection.
type Subscription struct {
	ID          string
	Destination string

	handler Handler
	conn    *Connection
}

// Unsubscribe removes the subscription from its connection.
func (s *Subscription) Unsubscribe() error {
	return s.conn.Unsubscribe(s)
}

// Connection is one STOMP session over one transport instance. Its
// subscription table starts empty and dies with it.
type Connection struct {
	conn         transport.Conn
	log          *zap.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration

	version   string
	server    string
	sendEvery time.Duration
	recvEvery time.Duration

	writeMu sync.Mutex

	mu   sync.Mutex
	subs []*Subscription

	closed    chan struct{}
	closeOnce sync.Once
}

type readResult struct {
	frames []stomp.Frame
	err    error
}

func newConnection(conn transport.Conn, log *zap.Logger, m *metrics.Metrics, writeTimeout time.Duration) *Connection {
	return &Connection{
		conn:         conn,
		log:          log,
		metrics:      m,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Version returns the negotiated STOMP version.
func (c *Connection) Version() string { return c.version }

// Server returns the broker's server header.
func (c *Connection) Server() string { return c.server }

// Subscribe sends SUBSCRIBE for destination and routes its MESSAGE frames to h.
func (c *Connection) Subscribe(destination string, h Handler) (*Subscription, error) {
	if destination == "" || h == nil {
		return nil, fmt.Errorf("%w: destination and handler are required", ErrSubscribeFailed)
	}
	if c.isClosed() {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, destination, ErrNotConnected)
	}

	sub := &Subscription{
		ID:          "sub-" + uuid.NewString(),
		Destination: destination,
		handler:     h,
		conn:        c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	f := stomp.New(stomp.CmdSubscribe,
		stomp.HdrID, sub.ID,
		stomp.HdrDestination, destination,
		stomp.HdrAck, "auto",
	)
	if err := c.write(f.Encode()); err != nil {
		c.remove(sub.ID)
		return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, destination, err)
	}
	c.log.Debug("subscribed", zap.String("destination", destination), zap.String("id", sub.ID))
	return sub, nil
}

// Unsubscribe sends UNSUBSCRIBE for sub. Unknown subscriptions are ignored.
func (c *Connection) Unsubscribe(sub *Subscription) error {
	if sub == nil || !c.remove(sub.ID) {
		return nil
	}
	if c.isClosed() {
		return nil
	}
	f := stomp.New(stomp.CmdUnsubscribe, stomp.HdrID, sub.ID)
	if err := c.write(f.Encode()); err != nil {
		return fmt.Errorf("failed to unsubscribe %s: %w", sub.Destination, err)
	}
	return nil
}

// UnsubscribeAll removes every subscription. Write failures are logged, not returned.
func (c *Connection) UnsubscribeAll() {
	for _, sub := range c.Subscriptions() {
		if err := c.Unsubscribe(sub); err != nil {
			c.log.Warn("unsubscribe failed", zap.String("destination", sub.Destination), zap.Error(err))
		}
	}
}

// Subscriptions returns the live subscriptions in subscribe order.
func (c *Connection) Subscriptions() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

// Send sends a SEND frame to destination.
func (c *Connection) Send(destination, contentType string, body []byte) error {
	if c.isClosed() {
		return ErrNotConnected
	}
	f := stomp.Frame{
		Command: stomp.CmdSend,
		Header:  stomp.Header{{Key: stomp.HdrDestination, Value: destination}},
		Body:    body,
	}
	if contentType != "" {
		f.Header.Add(stomp.HdrContentType, contentType)
	}
	if err := c.write(f.Encode()); err != nil {
		return fmt.Errorf("failed to send to %s: %w", destination, err)
	}
	return nil
}

func (c *Connection) lookup(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (c *Connection) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.ID == id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx := context.Background()
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, data)
}

// handle dispatches one inbound frame. A returned error ends the connection.
func (c *Connection) handle(f stomp.Frame) error {
	switch f.Command {
	case stomp.CmdMessage:
		id := f.Header.Get(stomp.HdrSubscription)
		sub := c.lookup(id)
		if sub == nil {
			c.log.Debug("dropping frame for unknown subscription",
				zap.String("subscription", id),
				zap.String("destination", f.Header.Get(stomp.HdrDestination)))
			return nil
		}
		sub.handler(f)
	case stomp.CmdReceipt:
		c.log.Debug("receipt", zap.String("receipt-id", f.Header.Get(stomp.HdrReceiptID)))
	case stomp.CmdError:
		return fmt.Errorf("%w: %s", ErrBrokerError, errorMessage(f))
	default:
		c.log.Debug("ignoring frame", zap.String("command", f.Command))
	}
	return nil
}

func (c *Connection) readLoop(out chan<- readResult) {
	for {
		data, err := c.conn.Read(context.Background())
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-c.closed:
			}
			return
		}

		frames, err := stomp.Parse(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err), zap.ByteString("data", data))
			c.metrics.MalformedPayload("frame")
		}

		select {
		case out <- readResult{frames: frames}:
		case <-c.closed:
			return
		}
	}
}

// shutdown is the graceful path: subscriptions first, then DISCONNECT, then the transport.
func (c *Connection) shutdown() {
	if c.isClosed() {
		return
	}
	c.UnsubscribeAll()
	if err := c.write(stomp.New(stomp.CmdDisconnect).Encode()); err != nil {
		c.log.Debug("disconnect frame not sent", zap.Error(err))
	}
	c.close()
}

// teardown drops the subscription table and the transport after a failure.
func (c *Connection) teardown() {
	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()
	c.close()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("transport close", zap.Error(err))
		}
	})
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func errorMessage(f stomp.Frame) string {
	msg := f.Header.Get(stomp.HdrMessage)
	if len(f.Body) > 0 {
		if msg != "" {
			return msg + ": " + string(f.Body)
		}
		return string(f.Body)
	}
	if msg == "" {
		return "no message"
	}
	return msg
}

func lossCause(err error) string {
	switch {
	case errors.Is(err, ErrHeartbeatTimeout):
		return "heartbeat"
	case errors.Is(err, ErrHandshake):
		return "handshake"
	case errors.Is(err, ErrBrokerError):
		return "broker_error"
	case errors.Is(err, ErrSubscribeFailed):
		return "subscribe"
	default:
		return "transport"
	}
}
