package broker

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omochice/direct-chat/pkg/stomp"
)

// session is one client connection.
type session struct {
	id       string
	srv      *Server
	conn     net.Conn
	upgrade  string
	log      *zap.Logger
	claims   *Claims
	rw       io.ReadWriter
	version  string
	sendHB   time.Duration
	recvHB   time.Duration
	writeMu  sync.Mutex
	mu       sync.Mutex
	subs     map[string]string // id -> destination
	done     chan struct{}
	doneOnce sync.Once
}

func newSession(srv *Server, conn net.Conn, authorization string) *session {
	id := uuid.NewString()
	s := &session{
		id:      id,
		srv:     srv,
		conn:    conn,
		upgrade: authorization,
		log:     srv.log.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String())),
		subs:    make(map[string]string),
		done:    make(chan struct{}),
	}
	// Control frame replies share the write lock with STOMP frames.
	s.rw = struct {
		io.Reader
		io.Writer
	}{conn, lockedWriter{s}}
	return s
}

type lockedWriter struct{ s *session }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.s.writeMu.Lock()
	defer w.s.writeMu.Unlock()
	return w.s.conn.Write(p)
}

func (s *session) serve() {
	defer s.close()

	if err := s.handshake(); err != nil {
		s.log.Info("connect rejected", zap.Error(err))
		return
	}
	s.log.Info("session connected",
		zap.String("username", s.claims.Subject),
		zap.String("version", s.version))

	if s.sendHB > 0 {
		go s.heartbeat()
	}

	tolerance := s.recvHB * time.Duration(s.srv.grace)
	for {
		if tolerance > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(tolerance))
		}
		data, _, err := wsutil.ReadClientData(s.rw)
		if err != nil {
			s.log.Debug("session ended", zap.Error(err))
			return
		}
		frames, err := stomp.Parse(data)
		if err != nil {
			s.fail(err.Error())
			return
		}
		for _, f := range frames {
			if !s.handle(f) {
				return
			}
		}
	}
}

func (s *session) handshake() error {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.connectTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	var connect stomp.Frame
	for {
		data, _, err := wsutil.ReadClientData(s.rw)
		if err != nil {
			return fmt.Errorf("failed to read CONNECT: %w", err)
		}
		frames, err := stomp.Parse(data)
		if err != nil {
			s.fail(err.Error())
			return err
		}
		if len(frames) > 0 {
			connect = frames[0]
			break
		}
	}
	if connect.Command != stomp.CmdConnect && connect.Command != stomp.CmdStomp {
		err := fmt.Errorf("expected CONNECT, got %s", connect.Command)
		s.fail(err.Error())
		return err
	}

	version, ok := negotiateVersion(connect.Header.Get(stomp.HdrAcceptVersion))
	if !ok {
		s.fail("supported protocol versions are " + stomp.SupportedVersions)
		return errors.New("no common protocol version")
	}

	authorization := connect.Header.Get(stomp.HdrAuthorization)
	if authorization == "" {
		authorization = s.upgrade
	}
	claims, err := s.srv.authenticate(authorization)
	if err != nil {
		s.fail("unauthorized")
		return err
	}

	remote, err := stomp.ParseHeartBeat(connect.Header.Get(stomp.HdrHeartBeat))
	if err != nil {
		s.fail(err.Error())
		return err
	}
	s.sendHB, s.recvHB = stomp.NegotiateHeartBeat(s.srv.heartBeat, remote)
	s.claims = claims
	s.version = version

	return s.write(stomp.New(stomp.CmdConnected,
		stomp.HdrVersion, version,
		stomp.HdrServer, ServerName,
		stomp.HdrSession, s.id,
		stomp.HdrHeartBeat, s.srv.heartBeat.String(),
	).Encode())
}

// handle processes one client frame and reports whether the session continues.
func (s *session) handle(f stomp.Frame) bool {
	switch f.Command {
	case stomp.CmdSubscribe:
		id, dest := f.Header.Get(stomp.HdrID), f.Header.Get(stomp.HdrDestination)
		if id == "" || dest == "" {
			s.fail("SUBSCRIBE requires id and destination")
			return false
		}
		s.mu.Lock()
		s.subs[id] = dest
		s.mu.Unlock()
		s.log.Debug("subscribed", zap.String("id", id), zap.String("destination", dest))

	case stomp.CmdUnsubscribe:
		s.mu.Lock()
		delete(s.subs, f.Header.Get(stomp.HdrID))
		s.mu.Unlock()

	case stomp.CmdSend:
		dest := f.Header.Get(stomp.HdrDestination)
		if err := s.srv.route(s, dest, f.Body); err != nil {
			s.log.Warn("dropping SEND", zap.String("destination", dest), zap.Error(err))
		}

	case stomp.CmdDisconnect:
		s.receipt(f)
		return false

	default:
		s.fail("unsupported command " + f.Command)
		return false
	}
	s.receipt(f)
	return true
}

func (s *session) receipt(f stomp.Frame) {
	id := f.Header.Get(stomp.HdrReceipt)
	if id == "" {
		return
	}
	if err := s.write(stomp.New(stomp.CmdReceipt, stomp.HdrReceiptID, id).Encode()); err != nil {
		s.log.Debug("failed to send receipt", zap.Error(err))
	}
}

// deliver sends body to each of the session's subscriptions to destination.
func (s *session) deliver(destination string, body []byte) int {
	s.mu.Lock()
	var ids []string
	for id, dest := range s.subs {
		if dest == destination {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var n int
	for _, id := range ids {
		f := stomp.New(stomp.CmdMessage,
			stomp.HdrSubscription, id,
			stomp.HdrMessageID, uuid.NewString(),
			stomp.HdrDestination, destination,
			stomp.HdrContentType, "application/json",
		)
		f.Body = body
		if err := s.write(f.Encode()); err != nil {
			s.log.Debug("failed to deliver", zap.String("destination", destination), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

func (s *session) subscribers(destination string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, dest := range s.subs {
		if dest == destination {
			n++
		}
	}
	return n
}

func (s *session) heartbeat() {
	ticker := time.NewTicker(s.sendHB)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(stomp.Heartbeat); err != nil {
				return
			}
		}
	}
}

func (s *session) fail(message string) {
	if err := s.write(stomp.New(stomp.CmdError, stomp.HdrMessage, message).Encode()); err != nil {
		s.log.Debug("failed to send ERROR", zap.Error(err))
	}
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.srv.writeTimeout))
	return wsutil.WriteServerText(s.conn, data)
}

func (s *session) close() {
	s.doneOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.srv.remove(s)
	})
}
