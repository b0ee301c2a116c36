// Package broker is a small in-memory STOMP broker speaking the direct chat
// wire contract over WebSocket. It backs local runs and end-to-end tests.
package broker

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/pkg/stomp"
)

// ServerName is sent in the CONNECTED server header.
const ServerName = "direct-chat-broker/1.0"

// Config configures a Server.
type Config struct {
	// Secret verifies HS256 bearer tokens. Required.
	Secret []byte

	// HeartBeat is what the broker offers in CONNECTED.
	HeartBeat stomp.HeartBeat

	// HeartbeatGrace multiplies the negotiated receive interval before a
	// silent client is dropped.
	HeartbeatGrace int

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         *zap.Logger

	// Now stamps chat messages. Defaults to time.Now.
	Now func() time.Time
}

// ErrNoSecret is returned by New without a token secret.
var ErrNoSecret = errors.New("broker: secret is required")

// Server upgrades HTTP requests to WebSocket and serves STOMP sessions.
type Server struct {
	secret         []byte
	heartBeat      stomp.HeartBeat
	grace          int
	connectTimeout time.Duration
	writeTimeout   time.Duration
	log            *zap.Logger
	now            func() time.Time
	upgrader       ws.HTTPUpgrader

	mu       sync.RWMutex
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup

	messageID atomic.Int64
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HeartbeatGrace < 1 {
		cfg.HeartbeatGrace = 2
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Server{
		secret:         cfg.Secret,
		heartBeat:      cfg.HeartBeat,
		grace:          cfg.HeartbeatGrace,
		connectTimeout: cfg.ConnectTimeout,
		writeTimeout:   cfg.WriteTimeout,
		log:            cfg.Logger,
		now:            cfg.Now,
		upgrader: ws.HTTPUpgrader{
			Protocol: func(p string) bool {
				return p == "v12.stomp" || p == "v11.stomp" || p == "v10.stomp"
			},
		},
		sessions: make(map[*session]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and serves the STOMP session until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "broker closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, _, _, err := s.upgrader.Upgrade(r, w)
	if err != nil {
		s.log.Warn("failed to upgrade connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	sess := newSession(s, conn, r.Header.Get(stomp.HdrAuthorization))
	if !s.add(sess) {
		// Close ran while this connection was upgrading.
		sess.close()
		return
	}
	sess.serve()
}

// Publish sends body as a MESSAGE to every subscriber of destination and
// returns how many subscriptions received it.
func (s *Server) Publish(destination string, body []byte) int {
	var n int
	for _, sess := range s.snapshot() {
		n += sess.deliver(destination, body)
	}
	return n
}

// Subscribers returns the number of live subscriptions to destination.
func (s *Server) Subscribers(destination string) int {
	var n int
	for _, sess := range s.snapshot() {
		n += sess.subscribers(destination)
	}
	return n
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// DropAll closes every session's transport without a STOMP goodbye.
func (s *Server) DropAll() {
	for _, sess := range s.snapshot() {
		sess.close()
	}
}

// Close drops every session, rejects new ones and waits for all session
// goroutines to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.DropAll()
	s.wg.Wait()
}

// add registers sess unless the server is closed.
func (s *Server) add(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

func (s *Server) snapshot() []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// negotiateVersion picks the highest version both sides support.
func negotiateVersion(accept string) (string, bool) {
	if accept == "" {
		return "1.0", true
	}
	offered := strings.Split(accept, ",")
	for _, v := range []string{"1.2", "1.1", "1.0"} {
		for _, o := range offered {
			if strings.TrimSpace(o) == v {
				return v, true
			}
		}
	}
	return "", false
}
