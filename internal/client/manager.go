// Package client manages the STOMP connection to the chat broker: dialing,
// the CONNECT handshake, heart-beats, subscriptions and reconnection.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/internal/transport"
	"github.com/omochice/direct-chat/pkg/stomp"
)

// Manager owns the connection for one room. A single run goroutine dials,
// serves and reconnects, so at most one connection attempt is ever in
// flight and every frame handler runs on that goroutine.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex
	state   State
	current *Connection
	opened  bool
	closing bool

	// stateMu orders state transitions with their OnStateChange calls.
	stateMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Manager in the Disconnected state.
func New(opts Options) *Manager {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Open starts connecting to the broker for room with credential and returns
// immediately. Connection progress is reported through State and
// Hooks.OnStateChange; transport failures are retried, never returned.
func (m *Manager) Open(room, credential string) error {
	if err := m.validate(room, credential); err != nil {
		m.log.Warn("refusing to connect", zap.Error(err))
		return err
	}

	m.mu.Lock()
	switch {
	case m.closing:
		m.mu.Unlock()
		return ErrClosed
	case m.opened:
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	m.opened = true
	m.mu.Unlock()

	m.log.Info("opening connection", zap.String("room", room), zap.String("endpoint", m.opts.Endpoint))
	go m.run(room, credential)
	return nil
}

func (m *Manager) validate(room, credential string) error {
	switch {
	case credential == "":
		return fmt.Errorf("%w: missing credential", ErrMisconfigured)
	case room == "":
		return fmt.Errorf("%w: missing room", ErrMisconfigured)
	case m.opts.Endpoint == "":
		return fmt.Errorf("%w: missing endpoint", ErrMisconfigured)
	case m.opts.Dialer == nil:
		return fmt.Errorf("%w: missing dialer", ErrMisconfigured)
	}
	return nil
}

// Close unsubscribes everything, disconnects and stops reconnecting. It
// returns once the transport is released and no handler can run again.
// Close is idempotent and must not be called from a handler or hook.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closing = true
		opened := m.opened
		m.mu.Unlock()

		if !opened {
			m.cancel()
			return
		}

		m.setState(StateDisconnecting, true)
		m.cancel()
		<-m.done
		m.setState(StateDisconnected, true)
		m.log.Info("connection closed")
	})
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the manager is in the Connected state.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connection returns the live connection, or nil.
func (m *Manager) Connection() *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Send publishes body to destination on the live connection.
// It is safe to call from any goroutine, including handlers.
func (m *Manager) Send(destination, contentType string, body []byte) error {
	m.mu.RLock()
	c, state := m.current, m.state
	m.mu.RUnlock()

	if c == nil || state != StateConnected {
		return ErrNotConnected
	}
	return c.Send(destination, contentType, body)
}

// setState moves to s. Unless force is set, transitions requested after
// Close began are ignored.
func (m *Manager) setState(s State, force bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	m.mu.Lock()
	if (m.closing && !force) || m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.log.Debug("state changed", zap.Stringer("state", s))
	m.opts.Metrics.SetConnected(s == StateConnected)
	if hook := m.opts.Hooks.OnStateChange; hook != nil {
		hook(s)
	}
}

func (m *Manager) setCurrent(c *Connection) {
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
}

func (m *Manager) run(room, credential string) {
	defer close(m.done)

	log := m.log.With(zap.String("room", room))
	policy := backoff.NewConstantBackOff(m.opts.ReconnectDelay)

	for {
		m.setState(StateConnecting, false)
		m.opts.Metrics.ConnectAttempt()

		err := m.connectAndServe(log, credential)
		if m.ctx.Err() != nil {
			return
		}

		m.setState(StateDisconnected, false)
		m.opts.Metrics.ConnectionLost(lossCause(err))
		if hook := m.opts.Hooks.OnDisconnect; hook != nil {
			hook(err)
		}

		delay := policy.NextBackOff()
		log.Warn("connection lost, reconnecting", zap.Error(err), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) connectAndServe(log *zap.Logger, credential string) error {
	c, err := m.connect(credential)
	if err != nil {
		return err
	}
	log.Info("connected",
		zap.String("version", c.version),
		zap.String("server", c.server),
		zap.Duration("heartbeat_send", c.sendEvery),
		zap.Duration("heartbeat_receive", c.recvEvery),
	)

	m.setCurrent(c)
	defer m.setCurrent(nil)

	if hook := m.opts.Hooks.OnConnect; hook != nil {
		if err := hook(c); err != nil {
			c.teardown()
			return err
		}
	}
	if m.ctx.Err() != nil {
		c.shutdown()
		return m.ctx.Err()
	}

	m.setState(StateConnected, false)
	return m.serve(c)
}

func (m *Manager) connect(credential string) (*Connection, error) {
	ctx, cancel := m.ctx, context.CancelFunc(func() {})
	if m.opts.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(m.ctx, m.opts.ConnectTimeout)
	}
	defer cancel()

	header := http.Header{}
	header.Set(stomp.HdrAuthorization, "Bearer "+credential)

	conn, err := m.opts.Dialer.Dial(ctx, m.opts.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	// Reads during the handshake only unblock when the transport closes.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, err := m.handshake(ctx, conn, credential)
	if !stop() && err == nil {
		err = fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (m *Manager) handshake(ctx context.Context, conn transport.Conn, credential string) (*Connection, error) {
	f := stomp.New(stomp.CmdConnect,
		stomp.HdrAcceptVersion, stomp.SupportedVersions,
		stomp.HdrHost, hostOf(m.opts.Endpoint),
		stomp.HdrHeartBeat, m.opts.HeartBeat.String(),
		stomp.HdrAuthorization, "Bearer "+credential,
	)
	if err := conn.Write(ctx, f.Encode()); err != nil {
		return nil, fmt.Errorf("failed to send CONNECT: %w", err)
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read CONNECTED: %w", err)
		}
		frames, err := stomp.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if len(frames) == 0 {
			continue
		}

		reply := frames[0]
		switch reply.Command {
		case stomp.CmdConnected:
			remote, err := stomp.ParseHeartBeat(reply.Header.Get(stomp.HdrHeartBeat))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
			}
			c := newConnection(conn, m.log, m.opts.Metrics, m.opts.WriteTimeout)
			c.version = reply.Header.Get(stomp.HdrVersion)
			c.server = reply.Header.Get(stomp.HdrServer)
			c.sendEvery, c.recvEvery = stomp.NegotiateHeartBeat(m.opts.HeartBeat, remote)
			return c, nil
		case stomp.CmdError:
			return nil, fmt.Errorf("%w: broker refused connection: %s", ErrHandshake, errorMessage(reply))
		default:
			return nil, fmt.Errorf("%w: unexpected %s frame", ErrHandshake, reply.Command)
		}
	}
}

// serve reads and dispatches frames until the connection fails or Close is called.
func (m *Manager) serve(c *Connection) error {
	inbound := make(chan readResult, 16)
	go c.readLoop(inbound)

	var sendTick, checkTick <-chan time.Time
	if c.sendEvery > 0 {
		t := time.NewTicker(c.sendEvery)
		defer t.Stop()
		sendTick = t.C
	}
	if c.recvEvery > 0 {
		t := time.NewTicker(c.recvEvery)
		defer t.Stop()
		checkTick = t.C
	}
	tolerance := c.recvEvery * time.Duration(m.opts.HeartbeatGrace)
	lastRead := time.Now()

	for {
		if m.ctx.Err() != nil {
			c.shutdown()
			return m.ctx.Err()
		}

		select {
		case <-m.ctx.Done():
			c.shutdown()
			return m.ctx.Err()

		case r := <-inbound:
			if r.err != nil {
				c.teardown()
				return fmt.Errorf("connection lost: %w", r.err)
			}
			lastRead = time.Now()
			for _, f := range r.frames {
				if m.ctx.Err() != nil {
					break
				}
				if err := c.handle(f); err != nil {
					c.teardown()
					return err
				}
			}

		case <-sendTick:
			if err := c.write(stomp.Heartbeat); err != nil {
				c.teardown()
				return fmt.Errorf("failed to send heart-beat: %w", err)
			}

		case <-checkTick:
			if silence := time.Since(lastRead); silence > tolerance {
				c.teardown()
				return fmt.Errorf("%w: nothing received for %s", ErrHeartbeatTimeout, silence.Round(time.Millisecond))
			}
		}
	}
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}
