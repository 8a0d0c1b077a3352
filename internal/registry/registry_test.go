package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(userID string) Connector {
	return NewConnector(context.Background(), userID, 4)
}

func TestAdd_EvictsPriorHandle(t *testing.T) {
	r := New()
	h1 := newTestConnector("u_alice")
	h2 := newTestConnector("u_alice")

	_, hadPrior := r.Add("u_alice", h1)
	require.False(t, hadPrior)

	evicted, hadPrior := r.Add("u_alice", h2)
	require.True(t, hadPrior)
	assert.Equal(t, h1.GetID(), evicted.GetID())

	got, ok := r.HandleOf("u_alice")
	require.True(t, ok)
	assert.Equal(t, h2.GetID(), got.GetID())

	_, ok = r.UserOf(h1.GetID())
	assert.False(t, ok, "old handle must no longer resolve to a user")

	user, ok := r.UserOf(h2.GetID())
	require.True(t, ok)
	assert.Equal(t, "u_alice", user)
}

func TestRemove_IsIdempotent(t *testing.T) {
	r := New()
	h := newTestConnector("u_bob")
	r.Add("u_bob", h)

	r.Remove("u_bob", h.GetID())
	assert.False(t, r.Has("u_bob"))

	// Removing again, or removing a user that never existed, is a no-op.
	assert.NotPanics(t, func() {
		r.Remove("u_bob", h.GetID())
		r.Remove("u_nobody", "conn-x")
	})
}

func TestRemove_DoesNotEvictNewerHandleForSameUser(t *testing.T) {
	r := New()
	h1 := newTestConnector("u_alice")
	h2 := newTestConnector("u_alice")

	r.Add("u_alice", h1)
	r.Add("u_alice", h2) // h1 evicted from the map, but its Remove may still race in.

	// A delayed Remove carrying h1's connID must be a safe no-op.
	r.Remove("u_alice", h1.GetID())

	got, ok := r.HandleOf("u_alice")
	require.True(t, ok)
	assert.Equal(t, h2.GetID(), got.GetID())
}

func TestCountAndClear(t *testing.T) {
	r := New()
	r.Add("u1", newTestConnector("u1"))
	r.Add("u2", newTestConnector("u2"))
	assert.Equal(t, 2, r.Count())

	r.Clear()
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Has("u1"))
}

func TestConnector_SendRespectsTimeoutAndClose(t *testing.T) {
	c := NewConnector(context.Background(), "u1", 1)
	ok := c.Send(nil, 10*time.Millisecond)
	assert.True(t, ok)

	// Buffer is full (capacity 1); Send must time out rather than block forever.
	ok = c.Send(nil, 10*time.Millisecond)
	assert.False(t, ok)

	c.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not fire after Close()")
	}
	assert.False(t, c.Send(nil, time.Millisecond))
}
