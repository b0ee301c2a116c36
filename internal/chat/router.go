package chat

import (
	"fmt"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/metrics"
	"github.com/omochice/direct-chat/pkg/stomp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handlers receive a session's events. Any of them may be nil.
// They run on the session's connection goroutine, except OnTypingChange
// which also runs when a typing entry expires.
type Handlers struct {
	OnMessage          func(msg InboundMessage)
	// OnTyping runs after ev was applied, so TypingUsernames already
	// reflects it.
	OnTyping           func(ev TypingEvent)
	OnRead             func(r ReadReceipt)
	OnConnectionChange func(connected bool)
	OnTypingChange     func(usernames []string)
}

type route int

const (
	routeMessage route = iota
	routeTyping
	routeRead
)

func (r route) String() string {
	switch r {
	case routeMessage:
		return "message"
	case routeTyping:
		return "typing"
	default:
		return "read"
	}
}

// Router decodes MESSAGE frames of one room and forwards them by destination.
type Router struct {
	routes   map[string]route
	typing   *TypingTracker
	log      *zap.Logger
	metrics  *metrics.Metrics
	handlers atomic.Pointer[Handlers]
	stopped  atomic.Bool
}

// NewRouter creates a router for room. typing may be nil.
func NewRouter(room RoomID, typing *TypingTracker, log *zap.Logger, m *metrics.Metrics) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		routes: map[string]route{
			Topic(room, SuffixMessages): routeMessage,
			Topic(room, SuffixTyping):   routeTyping,
			Topic(room, SuffixRead):     routeRead,
		},
		typing:  typing,
		log:     log,
		metrics: m,
	}
	r.handlers.Store(&Handlers{})
	return r
}

// SetHandlers replaces the handler set. Frames dispatched afterwards use h.
func (r *Router) SetHandlers(h Handlers) {
	r.handlers.Store(&h)
}

// Handlers returns the current handler set.
func (r *Router) Handlers() Handlers {
	return *r.handlers.Load()
}

// Stop makes every later Dispatch a no-op.
func (r *Router) Stop() {
	r.stopped.Store(true)
}

// Stopped reports whether Stop was called.
func (r *Router) Stopped() bool {
	return r.stopped.Load()
}

// Dispatch routes f to the matching handler. Undecodable bodies are logged
// and dropped; unknown destinations are dropped.
func (r *Router) Dispatch(f stomp.Frame) {
	if r.Stopped() {
		return
	}
	dest := f.Header.Get(stomp.HdrDestination)
	rt, ok := r.routes[dest]
	if !ok {
		r.log.Debug("dropping frame for unknown destination", zap.String("destination", dest))
		return
	}
	r.metrics.FrameReceived(rt.String())

	if err := r.dispatch(rt, f.Body); err != nil {
		r.log.Warn("dropping malformed payload",
			zap.String("destination", dest),
			zap.ByteString("body", f.Body),
			zap.Error(err))
		r.metrics.MalformedPayload(rt.String())
	}
}

func (r *Router) dispatch(rt route, body []byte) error {
	h := r.Handlers()

	switch rt {
	case routeMessage:
		var msg InboundMessage
		if err := decode(body, &msg); err != nil {
			return err
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}

	case routeTyping:
		var ev TypingEvent
		if err := decode(body, &ev); err != nil {
			return err
		}
		if ev.Username == "" {
			return fmt.Errorf("%w: typing event without username", ErrMalformedPayload)
		}
		if r.typing != nil {
			r.typing.Apply(ev)
		}
		if h.OnTyping != nil {
			h.OnTyping(ev)
		}

	case routeRead:
		var receipt ReadReceipt
		if err := decode(body, &receipt); err != nil {
			return err
		}
		if h.OnRead != nil {
			h.OnRead(receipt)
		}
	}
	return nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}
