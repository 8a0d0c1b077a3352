// Package ingress implements the Send Path (spec.md §4.5): validate,
// persist, enqueue, and compensate on partial failure. Grounded on the
// teacher's amqp bind.go for the persist-then-publish shape and on
// OscillatingBlock-GOssip/pkg/errors for the typed-error compensation
// logging idiom.
package ingress

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/webitel/chat-delivery-service/internal/apperr"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
	"github.com/webitel/chat-delivery-service/internal/queue"
	"github.com/webitel/chat-delivery-service/internal/store"
)

const (
	minContentLength = 1
	maxContentLength = 1000
)

// Result is the response a caller returns to the sending client (spec.md
// §4.5: "carries {messageId, messageIdByClient, timestamp: now}").
type Result struct {
	MessageID         string
	MessageIDByClient model.ClientMessageID
	Timestamp         time.Time
}

// Ingress is the behavior contract for the accept-a-send path.
type Ingress interface {
	Send(ctx context.Context, senderID, receiverID, content string, clientTimestamp int64, messageIDByClient model.ClientMessageID) (*Result, error)
}

type ingress struct {
	store  store.Store
	queue  queue.Queue
	logger *slog.Logger
}

func New(s store.Store, q queue.Queue, logger *slog.Logger) Ingress {
	return &ingress{store: s, queue: q, logger: logger}
}

func (in *ingress) Send(ctx context.Context, senderID, receiverID, content string, clientTimestamp int64, messageIDByClient model.ClientMessageID) (*Result, error) {
	if err := validate(senderID, receiverID, content); err != nil {
		return nil, err
	}

	msg, err := in.store.Create(ctx, senderID, receiverID, content, clientTimestamp)
	if err != nil {
		return nil, err
	}

	item := model.QueueItem{
		MessageID:  msg.MessageID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  time.UnixMilli(clientTimestamp).UTC().Format(time.RFC3339Nano),
	}

	if err := in.queue.Publish(ctx, item); err != nil {
		in.compensate(ctx, msg.MessageID, senderID, receiverID, err)
		return nil, err
	}

	return &Result{
		MessageID:         msg.MessageID,
		MessageIDByClient: messageIDByClient,
		Timestamp:         time.Now(),
	}, nil
}

// compensate deletes the orphaned store row a failed publish would
// otherwise leave behind (spec.md §4.5's compensation window). A failure
// here is logged, never retried inline — the spec explicitly defers
// cleanup of a failed compensation to an out-of-core reconciliation job.
func (in *ingress) compensate(ctx context.Context, messageID, senderID, receiverID string, publishErr error) {
	in.logger.Error("ingress: queue publish failed, compensating store write",
		"message_id", messageID, "sender_id", senderID, "receiver_id", receiverID, "error", publishErr)

	if err := in.store.DeleteByID(ctx, messageID); err != nil {
		in.logger.Error("ingress: compensation failed, orphaned undelivered message",
			"message_id", messageID, "sender_id", senderID, "receiver_id", receiverID, "error", err)
	}
}

func validate(senderID, receiverID, content string) error {
	if senderID == "" {
		return apperr.NotAuthenticated("send requires an authenticated session")
	}
	if receiverID == "" {
		return apperr.Validation("receiverId is required")
	}
	n := utf8.RuneCountInString(content)
	if n < minContentLength || n > maxContentLength {
		return apperr.Validation("content must be between 1 and 1000 code units")
	}
	return nil
}
