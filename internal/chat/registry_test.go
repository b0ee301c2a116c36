package chat_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omochice/direct-chat/internal/chat"
	"github.com/omochice/direct-chat/internal/client"
	"github.com/omochice/direct-chat/pkg/stomp"
)

func TestRegistry_SubscribeTwiceOnSameConnection(t *testing.T) {
	b := newTestBroker(t)
	var delivered atomic.Int32
	reg := chat.NewRegistry(func(stomp.Frame) { delivered.Add(1) }, zaptest.NewLogger(t))

	opts, err := client.OptionsFromConfig(b.cfg)
	require.NoError(t, err)
	opts.Logger = zaptest.NewLogger(t)
	opts.Hooks.OnConnect = func(c *client.Connection) error {
		if err := reg.Subscribe(c, room, chat.RoomSuffixes...); err != nil {
			return err
		}
		return reg.Subscribe(c, room, chat.RoomSuffixes...)
	}
	m := client.New(opts)
	t.Cleanup(m.Close)
	require.NoError(t, m.Open(string(room), string(token(t, "alice"))))

	require.Eventually(t, m.IsConnected, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{
		"/topic/direct/42",
		"/topic/direct/42/typing",
		"/topic/direct/42/read",
	}, reg.Destinations())
	assert.Len(t, m.Connection().Subscriptions(), 3)

	// The broker handles this SEND after every SUBSCRIBE and UNSUBSCRIBE
	// above, so the broadcast reaches the final subscription table: once.
	require.NoError(t, m.Send("/app/direct/42/send", "application/json", []byte(`{"message":"hi"}`)))
	require.Eventually(t, func() bool { return delivered.Load() == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestRegistry_FreshTableAfterReconnect(t *testing.T) {
	b := newTestBroker(t)
	reg := chat.NewRegistry(func(stomp.Frame) {}, nil)

	var connects atomic.Int32
	opts, err := client.OptionsFromConfig(b.cfg)
	require.NoError(t, err)
	opts.Hooks.OnConnect = func(c *client.Connection) error {
		connects.Add(1)
		return reg.Subscribe(c, room, chat.RoomSuffixes...)
	}
	m := client.New(opts)
	t.Cleanup(m.Close)
	require.NoError(t, m.Open(string(room), string(token(t, "alice"))))
	require.Eventually(t, m.IsConnected, waitFor, 5*time.Millisecond)

	first := m.Connection()
	b.DropAll()
	require.Eventually(t, func() bool {
		c := m.Connection()
		return connects.Load() == 2 && c != nil && c != first && m.IsConnected()
	}, waitFor, 5*time.Millisecond)

	assert.Len(t, reg.Destinations(), 3)
	assert.Len(t, m.Connection().Subscriptions(), 3)
	require.Eventually(t, func() bool {
		return b.Subscribers(chat.Topic(room, chat.SuffixTyping)) == 1
	}, waitFor, 5*time.Millisecond)

	reg.UnsubscribeAll()
	assert.Empty(t, reg.Destinations())
	assert.Empty(t, m.Connection().Subscriptions())
	require.Eventually(t, func() bool {
		return b.Subscribers(chat.Topic(room, chat.SuffixTyping)) == 0
	}, waitFor, 5*time.Millisecond)
}
