package chat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/omochice/direct-chat/internal/chat"
	"github.com/omochice/direct-chat/internal/client"
)

func TestService_JoinSwitchesRooms(t *testing.T) {
	b := newTestBroker(t)
	svc := chat.NewService(b.cfg, chat.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(svc.Close)

	first, err := svc.Join("1", token(t, "alice"), chat.Handlers{})
	require.NoError(t, err)
	waitSubscribed(t, b, "1", first)

	second, err := svc.Join("2", token(t, "alice"), chat.Handlers{})
	require.NoError(t, err)

	// The previous room is released before the new one opens.
	assert.Equal(t, client.StateDisconnected, first.State())
	assert.Same(t, second, svc.Current())
	waitSubscribed(t, b, "2", second)
	require.Eventually(t, func() bool {
		return b.Subscribers(chat.Topic("1", chat.SuffixMessages)) == 0
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, svc.Publish(chat.KindTypingStart, nil))
}

func TestService_PublishWithoutSession(t *testing.T) {
	svc := chat.NewService(newTestBroker(t).cfg)

	err := svc.Publish(chat.KindMessage, chat.OutboundMessage{Message: "hello"})
	assert.ErrorIs(t, err, chat.ErrNoClient)
	assert.ErrorIs(t, err, chat.ErrPublishRejected)
}

func TestService_JoinMisconfiguredKeepsNoSession(t *testing.T) {
	b := newTestBroker(t)
	svc := chat.NewService(b.cfg)
	t.Cleanup(svc.Close)

	first, err := svc.Join(room, token(t, "alice"), chat.Handlers{})
	require.NoError(t, err)
	waitSubscribed(t, b, room, first)

	_, err = svc.Join("", token(t, "alice"), chat.Handlers{})
	require.ErrorIs(t, err, chat.ErrMisconfigured)

	assert.Nil(t, svc.Current())
	assert.Equal(t, client.StateDisconnected, first.State())
}

func TestService_LeaveAndClose(t *testing.T) {
	b := newTestBroker(t)
	svc := chat.NewService(b.cfg)

	sess, err := svc.Join(room, token(t, "alice"), chat.Handlers{})
	require.NoError(t, err)
	waitSubscribed(t, b, room, sess)

	svc.Leave()
	assert.Nil(t, svc.Current())
	assert.False(t, sess.IsConnected())
	assert.ErrorIs(t, svc.Publish(chat.KindTypingStop, nil), chat.ErrNoClient)

	svc.Close()
	_, err = svc.Join(room, token(t, "alice"), chat.Handlers{})
	assert.ErrorIs(t, err, chat.ErrClosed)
}

func TestService_JoinWhileHandlerPublishes(t *testing.T) {
	b := newTestBroker(t)
	svc := chat.NewService(b.cfg, chat.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(svc.Close)

	started := make(chan struct{}, 1)
	published := make(chan error, 1)
	h := chat.Handlers{
		OnMessage: func(chat.InboundMessage) {
			started <- struct{}{}
			// Give Join time to start tearing this session down.
			time.Sleep(200 * time.Millisecond)
			published <- svc.Publish(chat.KindReadReceipt, chat.ReadRequest{MessageID: 1})
		},
	}
	first, err := svc.Join("1", token(t, "alice"), h)
	require.NoError(t, err)
	waitSubscribed(t, b, "1", first)

	require.Equal(t, 1, b.Publish(chat.Topic("1", chat.SuffixMessages), []byte(`{"id":1,"message":"hi"}`)))
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("handler was not called")
	}

	joined := make(chan error, 1)
	go func() {
		_, err := svc.Join("2", token(t, "alice"), chat.Handlers{})
		joined <- err
	}()

	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Join did not return while a handler was publishing")
	}
	select {
	case err := <-published:
		// Depending on timing the handler reaches the closing session,
		// no session at all, or the new one.
		if err != nil {
			t.Logf("publish from handler: %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("handler publish did not return")
	}
}
