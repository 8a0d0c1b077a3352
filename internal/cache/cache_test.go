package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) InboxCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, 5, time.Second)
}

func TestInbox_AddGetRemove_FIFO(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddToInbox(ctx, "u_bob", "m1"))
	require.NoError(t, c.AddToInbox(ctx, "u_bob", "m2"))

	ids, err := c.GetInbox(ctx, "u_bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	require.NoError(t, c.RemoveFromInbox(ctx, "u_bob", "m1"))
	ids, err = c.GetInbox(ctx, "u_bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids)
}

func TestInbox_AddIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddToInbox(ctx, "u_bob", "m1"))
	require.NoError(t, c.AddToInbox(ctx, "u_bob", "m1"))

	ids, err := c.GetInbox(ctx, "u_bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestInbox_ClearInbox(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.AddToInbox(ctx, "u_bob", "m1"))
	require.NoError(t, c.ClearInbox(ctx, "u_bob"))

	ids, err := c.GetInbox(ctx, "u_bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPresence_SetIsOnlineRemove(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	online, err := c.IsUserOnline(ctx, "u_alice")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, c.SetUserConnection(ctx, "u_alice", "server-1"))
	online, err = c.IsUserOnline(ctx, "u_alice")
	require.NoError(t, err)
	assert.True(t, online)

	serverID, found, err := c.GetUserServerID(ctx, "u_alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "server-1", serverID)

	require.NoError(t, c.RemoveUserConnection(ctx, "u_alice"))
	online, err = c.IsUserOnline(ctx, "u_alice")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestCachedMessage_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, found, err := c.GetCachedMessage(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, found)

	want := CachedMessage{SenderID: "u_alice", ReceiverID: "u_bob", Content: "hi", Timestamp: 1700000000000}
	require.NoError(t, c.CacheMessage(ctx, "m1", want))

	got, found, err := c.GetCachedMessage(ctx, "m1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, *got)
}

func TestCache_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := New(client, 2, 50*time.Millisecond)

	mr.Close() // every subsequent Redis call now fails

	ctx := context.Background()
	require.Error(t, c.AddToInbox(ctx, "u_bob", "m1"))
	require.Error(t, c.AddToInbox(ctx, "u_bob", "m1"))

	// Breaker should now be open; the call fails fast without touching Redis.
	err := c.AddToInbox(ctx, "u_bob", "m1")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}
