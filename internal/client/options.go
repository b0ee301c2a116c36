package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/config"
	"github.com/omochice/direct-chat/internal/metrics"
	"github.com/omochice/direct-chat/internal/transport"
	"github.com/omochice/direct-chat/internal/transport/ws"
	"github.com/omochice/direct-chat/pkg/stomp"
)

// Hooks are invoked on the manager's run goroutine, except OnStateChange
// which runs on whichever goroutine drives the transition. Hooks must not
// call Close.
type Hooks struct {
	// OnConnect runs after CONNECTED and before any inbound frame is read.
	// A returned error drops the connection and schedules a reconnect.
	OnConnect func(c *Connection) error

	// OnDisconnect runs after an unexpected connection loss.
	OnDisconnect func(err error)

	// OnStateChange runs on every state transition, in order.
	OnStateChange func(s State)
}

// Options configures a Manager.
type Options struct {
	Endpoint       string
	Dialer         transport.Dialer
	HeartBeat      stomp.HeartBeat
	HeartbeatGrace int
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Hooks          Hooks
}

// OptionsFromConfig maps cfg onto Options with the WebSocket dialer.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Endpoint:       endpoint,
		Dialer:         ws.NewDialer(cfg.ConnectTimeout, cfg.WriteTimeout),
		HeartBeat:      stomp.HeartBeat{Send: cfg.HeartbeatOutgoing, Receive: cfg.HeartbeatIncoming},
		HeartbeatGrace: cfg.HeartbeatGrace,
		ReconnectDelay: cfg.ReconnectDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, nil
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.HeartbeatGrace < 1 {
		o.HeartbeatGrace = 2
	}
}
