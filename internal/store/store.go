// Package store implements the Message Store (spec.md §4.2): the durable
// record of every accepted message, its delivery lifecycle flags, and the
// indexed queries the Inbox/history/retention paths need. Grounded on
// ceyewan-resonance's repo/message.go for the GORM transaction and
// composite-index idioms, adapted from that repo's session/inbox schema
// to spec.md's single Message table.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gorm.io/gorm"

	"github.com/webitel/chat-delivery-service/internal/apperr"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
	"github.com/webitel/chat-delivery-service/internal/telemetry"
)

// Store is the behavior contract for message persistence.
type Store interface {
	Create(ctx context.Context, senderID, receiverID, content string, timestamp int64) (*model.Message, error)
	FindByID(ctx context.Context, messageID string) (*model.Message, error)
	MarkDelivered(ctx context.Context, messageID string) error
	MarkUndelivered(ctx context.Context, messageID string) error
	DeleteByID(ctx context.Context, messageID string) error
	FindUndelivered(ctx context.Context, receiverID string) ([]*model.Message, error)
	ChatHistory(ctx context.Context, a, b string, beforeTimestamp int64, limit int) ([]*model.Message, error)
	DeleteDeliveredOlderThan(ctx context.Context, days int) (int64, error)
}

const maxHistoryLimit = 50

// gormStore is the GORM-backed implementation. It fronts FindByID with a
// bounded LRU cache (the L1 hot-id cache SPEC_FULL.md §4.2 adds) so a
// dispatcher-side reconciliation scan or a chatty drain doesn't round-trip
// to the database for messages it already read this process lifetime.
type gormStore struct {
	db       *gorm.DB
	hotCache *lru.Cache[string, *model.Message]
}

// New wraps db (already migrated) with the read-through cache. cacheSize
// is the number of hot message ids kept in memory.
func New(db *gorm.DB, cacheSize int) (Store, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[string, *model.Message](cacheSize)
	if err != nil {
		return nil, apperr.Internal("failed to create message store cache", err)
	}
	return &gormStore{db: db, hotCache: c}, nil
}

// Migrate creates or updates the messages table and its indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Message{}); err != nil {
		return apperr.Database(err)
	}
	return nil
}

func (s *gormStore) Create(ctx context.Context, senderID, receiverID, content string, timestamp int64) (*model.Message, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.Create")
	defer span.End()

	msg := &model.Message{
		MessageID:   uuid.NewString(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		Timestamp:   timestamp,
		Undelivered: true,
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, apperr.Database(err)
	}

	s.hotCache.Add(msg.MessageID, msg.Clone())
	return msg, nil
}

func (s *gormStore) FindByID(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, span := telemetry.StartSpan(ctx, "store.FindByID")
	defer span.End()

	if cached, ok := s.hotCache.Get(messageID); ok {
		return cached.Clone(), nil
	}

	var msg model.Message
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.MessageNotFound(messageID)
		}
		return nil, apperr.Database(err)
	}

	s.hotCache.Add(messageID, msg.Clone())
	return &msg, nil
}

func (s *gormStore) MarkDelivered(ctx context.Context, messageID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("message_id = ?", messageID).
		Updates(map[string]any{"undelivered": false, "delivered_at": now})
	if res.Error != nil {
		return apperr.Database(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.MessageNotFound(messageID)
	}
	s.hotCache.Remove(messageID)
	return nil
}

// MarkUndelivered is the compensator for a failed delivery-ack cache
// removal (spec.md §4.8): it reverts the message to its pre-delivery
// state so a later drain can hand it to the recipient again.
func (s *gormStore) MarkUndelivered(ctx context.Context, messageID string) error {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("message_id = ?", messageID).
		Updates(map[string]any{"undelivered": true, "delivered_at": nil})
	if res.Error != nil {
		return apperr.Database(res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.MessageNotFound(messageID)
	}
	s.hotCache.Remove(messageID)
	return nil
}

// DeleteByID is the compensator for a failed queue publish (spec.md §4.5).
func (s *gormStore) DeleteByID(ctx context.Context, messageID string) error {
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Delete(&model.Message{}).Error; err != nil {
		return apperr.Database(err)
	}
	s.hotCache.Remove(messageID)
	return nil
}

func (s *gormStore) FindUndelivered(ctx context.Context, receiverID string) ([]*model.Message, error) {
	var msgs []*model.Message
	err := s.db.WithContext(ctx).
		Where("receiver_id = ? AND undelivered = ?", receiverID, true).
		Order("timestamp ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, apperr.Database(err)
	}
	return msgs, nil
}

func (s *gormStore) ChatHistory(ctx context.Context, a, b string, beforeTimestamp int64, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	q := s.db.WithContext(ctx).
		Where(
			"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			a, b, b, a,
		)
	if beforeTimestamp > 0 {
		q = q.Where("timestamp < ?", beforeTimestamp)
	}

	var msgs []*model.Message
	if err := q.Order("timestamp DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, apperr.Database(err)
	}
	return msgs, nil
}

// DeleteDeliveredOlderThan is the background retention sweep (spec.md
// §3): it removes delivered messages whose deliveredAt predates the
// retention horizon.
func (s *gormStore) DeleteDeliveredOlderThan(ctx context.Context, days int) (int64, error) {
	horizon := time.Now().AddDate(0, 0, -days)
	res := s.db.WithContext(ctx).
		Where("undelivered = ? AND delivered_at < ?", false, horizon).
		Delete(&model.Message{})
	if res.Error != nil {
		return 0, apperr.Database(res.Error)
	}
	return res.RowsAffected, nil
}
