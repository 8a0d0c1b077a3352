package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/webitel/chat-delivery-service/internal/store"
)

func newTestAPI(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	s, err := store.New(db, 16)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(s, logger), s
}

func TestChatHistory_ReturnsMessagesBetweenParticipants(t *testing.T) {
	router, s := newTestAPI(t)
	ctx := context.Background()
	_, err := s.Create(ctx, "u_alice", "u_bob", "hi", 100)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/messages/history/u_bob?with=u_alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
}

func TestChatHistory_MissingWithParam_400(t *testing.T) {
	router, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/messages/history/u_bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageByID_Found(t *testing.T) {
	router, s := newTestAPI(t)
	msg, err := s.Create(context.Background(), "u_alice", "u_bob", "hi", 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/messages/"+msg.MessageID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMessageByID_NotFound_404(t *testing.T) {
	router, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/messages/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
