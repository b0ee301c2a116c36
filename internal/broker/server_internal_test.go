package broker

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		accept string
		want   string
		ok     bool
	}{
		{"", "1.0", true},
		{"1.2,1.1,1.0", "1.2", true},
		{"1.0, 1.1", "1.1", true},
		{"1.0", "1.0", true},
		{"2.0,3.0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			got, ok := negotiateVersion(tt.accept)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServer_AddAfterClose(t *testing.T) {
	srv, err := New(Config{Secret: []byte("secret"), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	live, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	before := newSession(srv, live, "")
	require.True(t, srv.add(before))
	assert.Equal(t, 1, srv.Sessions())

	srv.Close()
	assert.Zero(t, srv.Sessions())

	late, latePeer := net.Pipe()
	t.Cleanup(func() { _ = latePeer.Close() })
	sess := newSession(srv, late, "")
	assert.False(t, srv.add(sess))
	assert.Zero(t, srv.Sessions())
	assert.Zero(t, srv.Publish("/topic/direct/1", []byte("{}")))
}
