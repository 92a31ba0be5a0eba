package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()

	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	b, err := hub.Register(1, nil)
	require.NoError(t, err)
	assert.True(t, hub.IsOnline(1))
	assert.Equal(t, 2, hub.ConnectionCount())

	hub.UnregisterClient(a)
	hub.UnregisterClient(a)
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.True(t, hub.IsOnline(1))

	hub.UnregisterClient(b)
	assert.False(t, hub.IsOnline(1))
	assert.Zero(t, hub.ConnectionCount())
}

func TestHub_PerUserLimit(t *testing.T) {
	hub := NewHub()
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(9, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(9, nil)
	assert.ErrorIs(t, err, ErrUserFull)

	_, err = hub.Register(10, nil)
	assert.NoError(t, err, "limit is per user")
	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Zero(t, hub.ConnectionCount())
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(3, nil)
	require.NoError(t, err)

	for i := 0; i < sendBuffer; i++ {
		c.TrySend([]byte("m"))
	}
	c.TrySend([]byte("overflow"))
	assert.Len(t, c.Send, sendBuffer)

	close(c.Send)
	assert.NotPanics(t, func() { c.TrySend([]byte("late")) })
}

func TestHub_HandleInbound(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(4, nil)
	require.NoError(t, err)

	hub.HandleInbound(c, InboundFrame{Type: FramePing})
	assert.JSONEq(t, `{"type":"pong"}`, string(<-c.Send))

	hub.HandleInbound(c, InboundFrame{Type: FrameRead, ID: 5})
	assert.JSONEq(t, `{"type":"read_ack","payload":{"id":5,"ok":false}}`, string(<-c.Send), "no handler installed")

	var gotUser, gotID uint
	hub.OnRead(func(_ context.Context, userID, id uint) error {
		gotUser, gotID = userID, id
		if id == 404 {
			return errors.New("not found")
		}
		return nil
	})
	hub.HandleInbound(c, InboundFrame{Type: FrameRead, ID: 7})
	assert.JSONEq(t, `{"type":"read_ack","payload":{"id":7,"ok":true}}`, string(<-c.Send))
	assert.Equal(t, uint(4), gotUser)
	assert.Equal(t, uint(7), gotID)

	hub.HandleInbound(c, InboundFrame{Type: FrameRead, ID: 404})
	assert.JSONEq(t, `{"type":"read_ack","payload":{"id":404,"ok":false}}`, string(<-c.Send))

	hub.HandleInbound(c, InboundFrame{Type: "subscribe"})
	assert.Empty(t, c.Send)
}
