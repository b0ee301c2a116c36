package client_test

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omochice/direct-chat/internal/transport"
	"github.com/omochice/direct-chat/pkg/stomp"
)

const waitFor = 2 * time.Second

// pipeConn is one end of an in-memory transport.Conn pair.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   *sync.Once
	addr   string
}

func newPipe() (client, server *pipeConn) {
	c2s := make(chan []byte, 64)
	s2c := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	client = &pipeConn{in: s2c, out: c2s, closed: closed, once: once, addr: "broker"}
	server = &pipeConn{in: c2s, out: s2c, closed: closed, once: once, addr: "client"}
	return client, server
}

// Read drains buffered data before reporting the close.
func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		select {
		case data := <-p.in:
			return data, nil
		default:
			return nil, io.EOF
		}
	case data := <-p.in:
		return data, nil
	}
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	copied := make([]byte, len(data))
	copy(copied, data)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return io.ErrClosedPipe
	case p.out <- copied:
		return nil
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) RemoteAddr() string { return p.addr }

var _ transport.Conn = (*pipeConn)(nil)

// fakeBroker hands every dialed connection to the test.
type fakeBroker struct {
	conns chan *brokerConn
	dials atomic.Int32
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{conns: make(chan *brokerConn, 8)}
}

func (b *fakeBroker) Dial(ctx context.Context, _ string, header http.Header) (transport.Conn, error) {
	b.dials.Add(1)
	client, server := newPipe()
	select {
	case b.conns <- &brokerConn{pipe: server, header: header.Clone()}:
		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBroker) next(t *testing.T) *brokerConn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

// brokerConn is the broker side of one dialed connection.
type brokerConn struct {
	pipe    *pipeConn
	header  http.Header
	pending []stomp.Frame
}

// readRaw returns the next chunk written by the client.
func (c *brokerConn) readRaw(t *testing.T) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	data, err := c.pipe.Read(ctx)
	require.NoError(t, err)
	return data
}

// frame returns the next non heart-beat frame written by the client.
func (c *brokerConn) frame(t *testing.T) stomp.Frame {
	t.Helper()
	for len(c.pending) == 0 {
		data := c.readRaw(t)
		if stomp.IsHeartbeat(data) {
			continue
		}
		frames, err := stomp.Parse(data)
		require.NoError(t, err)
		c.pending = append(c.pending, frames...)
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f
}

func (c *brokerConn) send(t *testing.T, f stomp.Frame) {
	t.Helper()
	require.NoError(t, c.pipe.Write(context.Background(), f.Encode()))
}

// accept answers CONNECT with CONNECTED and returns the CONNECT frame.
func (c *brokerConn) accept(t *testing.T, heartBeat string) stomp.Frame {
	t.Helper()
	connect := c.frame(t)
	require.Equal(t, stomp.CmdConnect, connect.Command)
	c.send(t, stomp.New(stomp.CmdConnected,
		stomp.HdrVersion, "1.2",
		stomp.HdrServer, "fake/1.0",
		stomp.HdrHeartBeat, heartBeat,
	))
	return connect
}

// subscribed reads one SUBSCRIBE frame and returns its id and destination.
func (c *brokerConn) subscribed(t *testing.T) (id, destination string) {
	t.Helper()
	f := c.frame(t)
	require.Equal(t, stomp.CmdSubscribe, f.Command)
	return f.Header.Get(stomp.HdrID), f.Header.Get(stomp.HdrDestination)
}

func (c *brokerConn) message(t *testing.T, subscription, destination, body string) {
	t.Helper()
	f := stomp.New(stomp.CmdMessage,
		stomp.HdrSubscription, subscription,
		stomp.HdrDestination, destination,
		stomp.HdrMessageID, "m-1",
	)
	f.Body = []byte(body)
	c.send(t, f)
}

func (c *brokerConn) drop() {
	_ = c.pipe.Close()
}
