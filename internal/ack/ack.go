// Package ack implements Delivery Acknowledgment (spec.md §4.8): mark a
// message delivered and remove it from the recipient's inbox, compensating
// back to undelivered if the cache-side removal fails. Grounded on the
// same compensator shape as internal/ingress, mirroring the teacher's
// consistent error-and-log-don't-retry-inline posture from bind.go.
package ack

import (
	"context"
	"log/slog"

	"github.com/webitel/chat-delivery-service/internal/cache"
	"github.com/webitel/chat-delivery-service/internal/store"
)

// Ack is the behavior contract for the delivery-acknowledgment path.
type Ack interface {
	Acknowledge(ctx context.Context, userID, messageID string) error
}

type ack struct {
	store  store.Store
	cache  cache.InboxCache
	logger *slog.Logger
}

func New(s store.Store, c cache.InboxCache, logger *slog.Logger) Ack {
	return &ack{store: s, cache: c, logger: logger}
}

// Acknowledge implements spec.md §4.8's two-step procedure and its
// compensator: a cache removal failure after a successful store update
// reverts the message to undelivered so it reappears on the next drain —
// the spec explicitly prefers a duplicate delivery over a silent loss.
func (a *ack) Acknowledge(ctx context.Context, userID, messageID string) error {
	if err := a.store.MarkDelivered(ctx, messageID); err != nil {
		return err
	}

	if err := a.cache.RemoveFromInbox(ctx, userID, messageID); err != nil {
		a.logger.Error("ack: inbox removal failed, compensating store update",
			"user_id", userID, "message_id", messageID, "error", err)

		if compErr := a.store.MarkUndelivered(ctx, messageID); compErr != nil {
			a.logger.Error("ack: compensation failed, message stuck delivered with stale inbox entry",
				"user_id", userID, "message_id", messageID, "error", compErr)
		}
		return err
	}

	return nil
}
