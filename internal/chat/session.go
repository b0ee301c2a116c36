// Package chat is the direct chat session layer: one STOMP connection per
// room carrying messages, typing indicators and read receipts.
package chat

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/client"
	"github.com/omochice/direct-chat/internal/config"
	"github.com/omochice/direct-chat/internal/metrics"
	"github.com/omochice/direct-chat/internal/transport"
)

type options struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	dialer  transport.Dialer
	clock   Clock
}

// Option configures Open and NewService.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithClock replaces the clock used for typing expiry.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop(), clock: SystemClock}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Session is an open room. It reconnects on its own until Close.
type Session struct {
	room      RoomID
	log       *zap.Logger
	metrics   *metrics.Metrics
	manager   *client.Manager
	registry  *Registry
	router    *Router
	typing    *TypingTracker
	publisher *Publisher

	connected atomic.Bool
	closeOnce sync.Once
}

// Open starts a session for room. It returns without waiting for the
// connection; progress is reported through Handlers.OnConnectionChange.
func Open(cfg config.Config, room RoomID, credential Credential, h Handlers, opts ...Option) (*Session, error) {
	o := buildOptions(opts)
	log := o.log.With(zap.String("room", string(room)))

	switch {
	case room == "":
		log.Warn("refusing to open session", zap.String("reason", "missing room"))
		return nil, fmt.Errorf("%w: missing room", ErrMisconfigured)
	case credential == "":
		log.Warn("refusing to open session", zap.String("reason", "missing credential"))
		return nil, fmt.Errorf("%w: missing credential", ErrMisconfigured)
	}

	copts, err := client.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMisconfigured, err)
	}
	if o.dialer != nil {
		copts.Dialer = o.dialer
	}
	copts.Logger = log
	copts.Metrics = o.metrics

	s := &Session{
		room:    room,
		log:     log,
		metrics: o.metrics,
	}
	s.typing = NewTypingTracker(cfg.TypingTTL, o.clock, s.typingChanged)
	s.router = NewRouter(room, s.typing, log, o.metrics)
	s.router.SetHandlers(h)
	s.registry = NewRegistry(s.router.Dispatch, log)

	copts.Hooks = client.Hooks{
		OnConnect: func(c *client.Connection) error {
			return s.registry.Subscribe(c, room, RoomSuffixes...)
		},
		OnDisconnect: func(error) {
			s.typing.Reset()
		},
		OnStateChange: s.stateChanged,
	}
	s.manager = client.New(copts)
	s.publisher = NewPublisher(s.manager, room, log, o.metrics)

	if err := s.manager.Open(string(room), string(credential)); err != nil {
		s.typing.Close()
		return nil, err
	}
	return s, nil
}

// Room returns the session's room.
func (s *Session) Room() RoomID { return s.room }

// State returns the connection state.
func (s *Session) State() client.State { return s.manager.State() }

// IsConnected reports whether the session can publish.
func (s *Session) IsConnected() bool { return s.manager.IsConnected() }

// TypingUsernames returns the users currently typing, sorted.
func (s *Session) TypingUsernames() []string { return s.typing.Usernames() }

// SetHandlers replaces the handler set for every later event.
func (s *Session) SetHandlers(h Handlers) { s.router.SetHandlers(h) }

// PublishMessage sends text to the room.
func (s *Session) PublishMessage(text string) error {
	return s.publisher.Publish(KindMessage, OutboundMessage{Message: text})
}

// StartTyping announces that the local user started typing.
func (s *Session) StartTyping() error {
	return s.publisher.Publish(KindTypingStart, nil)
}

// StopTyping announces that the local user stopped typing.
func (s *Session) StopTyping() error {
	return s.publisher.Publish(KindTypingStop, nil)
}

// MarkRead marks messageID as read.
func (s *Session) MarkRead(messageID int64) error {
	return s.publisher.Publish(KindReadReceipt, ReadRequest{MessageID: messageID})
}

// Publish sends payload as kind.
func (s *Session) Publish(kind Kind, payload any) error {
	return s.publisher.Publish(kind, payload)
}

// Close stops event delivery, cancels typing timers, unsubscribes and
// disconnects. No handler runs after Close returns. Close must not be called
// from a handler.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.router.Stop()
		s.typing.Close()
		s.manager.Close()
		s.registry.UnsubscribeAll()
		s.metrics.SetTypingUsers(0)
		s.log.Info("session closed")
	})
}

func (s *Session) stateChanged(st client.State) {
	connected := st == client.StateConnected
	if s.connected.Swap(connected) == connected || s.router.Stopped() {
		return
	}
	if h := s.router.Handlers().OnConnectionChange; h != nil {
		h(connected)
	}
}

func (s *Session) typingChanged(usernames []string) {
	s.metrics.SetTypingUsers(len(usernames))
	if s.router.Stopped() {
		return
	}
	if h := s.router.Handlers().OnTypingChange; h != nil {
		h(usernames)
	}
}
