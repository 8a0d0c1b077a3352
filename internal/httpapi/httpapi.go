// Package httpapi exposes the out-of-core HTTP surface SPEC_FULL.md adds
// on top of the transport-native core: chat history and single-message
// lookups against the Message Store, for clients that want a REST fetch
// instead of replaying the WebSocket drain. Grounded on go-chi/chi/v5,
// carried into the domain-stack wiring from ceyewan-resonance and
// d60-Lab-RelationGraph, both of which route their HTTP surfaces with it.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/chat-delivery-service/internal/apperr"
	"github.com/webitel/chat-delivery-service/internal/store"
)

type API struct {
	store  store.Store
	logger *slog.Logger
}

// NewRouter builds the chi router for the history/message-lookup surface.
func NewRouter(s store.Store, logger *slog.Logger) http.Handler {
	api := &API{store: s, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/messages", func(r chi.Router) {
		r.Get("/history/{participantId}", api.chatHistory)
		r.Get("/{messageId}", api.messageByID)
	})

	return r
}

func (a *API) chatHistory(w http.ResponseWriter, r *http.Request) {
	participant := chi.URLParam(r, "participantId")
	self := r.URL.Query().Get("with")
	if self == "" {
		writeError(w, http.StatusBadRequest, "with query parameter is required")
		return
	}

	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an integer timestamp")
			return
		}
		before = parsed
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	msgs, err := a.store.ChatHistory(r.Context(), self, participant, before, limit)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) messageByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	msg, err := a.store.FindByID(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	if apperr.CodeOf(err) == apperr.CodeMessageNotFound {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	a.logger.Error("httpapi: store operation failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
