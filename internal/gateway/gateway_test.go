package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/webitel/chat-delivery-service/internal/ack"
	"github.com/webitel/chat-delivery-service/internal/cache"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
	"github.com/webitel/chat-delivery-service/internal/ingress"
	"github.com/webitel/chat-delivery-service/internal/queue"
	"github.com/webitel/chat-delivery-service/internal/registry"
)

type memStore struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	seq      int
}

func newMemStore() *memStore { return &memStore{messages: map[string]*model.Message{}} }

func (s *memStore) Create(ctx context.Context, senderID, receiverID, content string, timestamp int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := &model.Message{MessageID: "m" + string(rune('0'+s.seq)), SenderID: senderID, ReceiverID: receiverID, Content: content, Timestamp: timestamp, Undelivered: true}
	s.messages[msg.MessageID] = msg
	return msg, nil
}
func (s *memStore) FindByID(ctx context.Context, messageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[messageID]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}
func (s *memStore) MarkDelivered(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return errors.New("not found")
	}
	m.Undelivered = false
	return nil
}
func (s *memStore) MarkUndelivered(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return errors.New("not found")
	}
	m.Undelivered = true
	return nil
}
func (s *memStore) DeleteByID(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
	return nil
}
func (s *memStore) FindUndelivered(ctx context.Context, receiverID string) ([]*model.Message, error) {
	return nil, nil
}
func (s *memStore) ChatHistory(ctx context.Context, a, b string, beforeTimestamp int64, limit int) ([]*model.Message, error) {
	return nil, nil
}
func (s *memStore) DeleteDeliveredOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

type memCache struct {
	mu    sync.Mutex
	inbox map[string][]string
}

func newMemCache() *memCache { return &memCache{inbox: map[string][]string{}} }

func (c *memCache) AddToInbox(ctx context.Context, userID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox[userID] = append(c.inbox[userID], messageID)
	return nil
}
func (c *memCache) GetInbox(ctx context.Context, userID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.inbox[userID]...), nil
}
func (c *memCache) RemoveFromInbox(ctx context.Context, userID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.inbox[userID]
	for i, id := range ids {
		if id == messageID {
			c.inbox[userID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}
func (c *memCache) ClearInbox(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inbox, userID)
	return nil
}
func (c *memCache) SetUserConnection(ctx context.Context, userID, serverID string) error { return nil }
func (c *memCache) IsUserOnline(ctx context.Context, userID string) (bool, error)         { return false, nil }
func (c *memCache) RemoveUserConnection(ctx context.Context, userID string) error         { return nil }
func (c *memCache) GetUserServerID(ctx context.Context, userID string) (string, bool, error) {
	return "", false, nil
}
func (c *memCache) CacheMessage(ctx context.Context, messageID string, msg cache.CachedMessage) error {
	return nil
}
func (c *memCache) GetCachedMessage(ctx context.Context, messageID string) (*cache.CachedMessage, bool, error) {
	return nil, false, nil
}

type noopQueue struct{}

func (noopQueue) Publish(ctx context.Context, item model.QueueItem) error { return nil }
func (noopQueue) Consume(ctx context.Context, handler queue.Handler) error { return nil }
func (noopQueue) Close() error                                             { return nil }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestGateway() (*Gateway, *memStore, *memCache) {
	s := newMemStore()
	c := newMemCache()
	reg := registry.New()
	in := ingress.New(s, noopQueue{}, discardLogger())
	ak := ack.New(s, c, discardLogger())
	gw := New(NewQueryParamAuthenticator("userId"), reg, c, s, in, ak, discardLogger(), "server-1")
	return gw, s, c
}

func dial(t *testing.T, srv *httptest.Server, userID string) *gorillaws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?userId=" + userID
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestGateway_SendMessage_RespondsWithMessageReceived(t *testing.T) {
	gw, _, _ := newTestGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u_alice")
	defer conn.Close()

	// Exercises the numeric-string decode path (some clients round-trip the
	// echo id as a quoted number); the bare-number wire form from spec.md
	// §8 S1 is covered separately below.
	req := map[string]any{"type": "send_message", "receiver_id": "u_bob", "content": "hi", "message_id_by_client": "1", "timestamp": 1}
	require.NoError(t, conn.WriteJSON(req))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "message_received", resp["action"])
	require.EqualValues(t, 1, resp["message_id_by_client"])
}

func TestGateway_SendMessage_AcceptsNumericMessageIDByClient(t *testing.T) {
	gw, _, _ := newTestGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u_alice")
	defer conn.Close()

	// spec.md §8 S1, sent verbatim: message_id_by_client is a bare JSON
	// number, not a quoted string.
	raw := `{"type":"send_message","receiver_id":"u_bob","content":"hi","message_id_by_client":7,"timestamp":1700000000000}`
	require.NoError(t, conn.WriteMessage(gorillaws.TextMessage, []byte(raw)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "message_received", resp["action"])
	require.EqualValues(t, 7, resp["message_id_by_client"])
}

func TestGateway_MissingIdentity_Rejected(t *testing.T) {
	gw, _, _ := newTestGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestGateway_DrainOnReconnect_EmitsPendingInboxMessages(t *testing.T) {
	gw, s, c := newTestGateway()
	msg, err := s.Create(context.Background(), "u_alice", "u_bob", "queued while offline", 42)
	require.NoError(t, err)
	require.NoError(t, c.AddToInbox(context.Background(), "u_bob", msg.MessageID))

	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u_bob")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "incoming_message", resp["type"])
	require.Equal(t, "queued while offline", resp["content"])
}

func TestGateway_MessageDelivered_RemovesFromInbox(t *testing.T) {
	gw, s, c := newTestGateway()
	msg, err := s.Create(context.Background(), "u_alice", "u_bob", "hi", 1)
	require.NoError(t, err)
	require.NoError(t, c.AddToInbox(context.Background(), "u_bob", msg.MessageID))
	require.NoError(t, s.MarkDelivered(context.Background(), msg.MessageID)) // pretend already delivered once

	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u_bob")
	defer conn.Close()

	// Drain will emit the pending inbox entry first; read and discard it.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var drained map[string]any
	require.NoError(t, conn.ReadJSON(&drained))

	ackReq := map[string]any{"type": "message_delivered", "message_id": msg.MessageID, "timestamp": 1}
	require.NoError(t, conn.WriteJSON(ackReq))

	require.Eventually(t, func() bool {
		ids, _ := c.GetInbox(context.Background(), "u_bob")
		return len(ids) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestGateway_UnknownEventType_ReturnsError(t *testing.T) {
	gw, _, _ := newTestGateway()
	srv := httptest.NewServer(gw)
	defer srv.Close()

	conn := dial(t, srv, "u_alice")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "error", resp["type"])
}

