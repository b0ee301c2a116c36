package chat

import (
	"sync"

	"github.com/omochice/direct-chat/internal/config"
)

// Service keeps at most one open session and switches rooms.
//
// The lock only guards the current pointer. Sessions are closed outside of
// it: closing waits for the read loop, whose handlers may call back into the
// service.
type Service struct {
	cfg  config.Config
	opts []Option

	mu      sync.Mutex
	current *Session
	closed  bool
}

// NewService creates a service opening sessions with cfg and opts.
func NewService(cfg config.Config, opts ...Option) *Service {
	return &Service{cfg: cfg, opts: opts}
}

// Join closes the current session, if any, and opens room.
func (s *Service) Join(room RoomID, credential Credential, h Handlers) (*Session, error) {
	prev, err := s.swap(nil)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		prev.Close()
	}

	sess, err := Open(s.cfg, room, credential, h, s.opts...)
	if err != nil {
		return nil, err
	}

	// A concurrent Join may have installed its own session meanwhile; the
	// last one wins and the loser is closed.
	prev, err = s.swap(sess)
	if err != nil {
		sess.Close()
		return nil, err
	}
	if prev != nil {
		prev.Close()
	}
	return sess, nil
}

// swap installs next as the current session and returns the previous one.
func (s *Service) swap(next *Session) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	prev := s.current
	s.current = next
	return prev, nil
}

// Current returns the open session, or nil.
func (s *Service) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Publish sends payload on the current session. Without a session it
// returns ErrNoClient.
func (s *Service) Publish(kind Kind, payload any) error {
	if sess := s.Current(); sess != nil {
		return sess.Publish(kind, payload)
	}
	o := buildOptions(s.opts)
	return NewPublisher(nil, "", o.log, o.metrics).Publish(kind, payload)
}

// Leave closes the current session.
func (s *Service) Leave() {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Close closes the current session and rejects later joins.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}
