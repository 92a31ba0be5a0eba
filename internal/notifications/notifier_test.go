package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.False(t, n.Enabled())
	assert.NoError(t, n.PublishUser(context.Background(), 1, "x"))
	assert.NoError(t, n.PublishBroadcast(context.Background(), "x"))
	assert.NoError(t, n.StartPatternSubscriber(context.Background(), func(string, string) {}))
}

func TestUserChannelRoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "notifications:user:100", UserChannel(100))

	id, ok := ParseUserChannel(UserChannel(42))
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"notifications:user:", "notifications:user:abc", "notifications:user:0", "chat:conv:1"} {
		_, ok := ParseUserChannel(bad)
		assert.False(t, ok, bad)
	}
}

func TestHub_WiringDeliversToUser(t *testing.T) {
	rdb := newRedis(t)
	n := NewNotifier(rdb)
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, n))

	alice, err := hub.Register(7, nil)
	require.NoError(t, err)
	bob, err := hub.Register(8, nil)
	require.NoError(t, err)

	require.NoError(t, n.PublishUserEvent(context.Background(), 7, Event{Type: "story_liked", Payload: map[string]any{"storyId": 3}}))

	select {
	case msg := <-alice.Send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "story_liked", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("alice did not receive the event")
	}
	assert.Never(t, func() bool { return len(bob.Send) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, n.PublishBroadcast(context.Background(), `{"type":"maintenance"}`))
	assert.Eventually(t, func() bool { return len(bob.Send) == 1 }, time.Second, 10*time.Millisecond)
}
