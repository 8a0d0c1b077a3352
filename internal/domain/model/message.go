// Package model holds the entities shared across the delivery pipeline:
// the persisted Message and the wire-level events that carry it.
package model

import "time"

// Message is the central persisted entity (spec.md §3). SenderID and
// ReceiverID are opaque identifiers minted by an external identity
// provider (out of core scope); Content is UTF-8 text bounded to
// [1, 1000] code units by the ingress validator.
type Message struct {
	MessageID   string     `gorm:"column:message_id;primaryKey;type:varchar(64)"`
	SenderID    string     `gorm:"column:sender_id;type:varchar(64);not null;index:idx_sender_receiver_ts,priority:1"`
	ReceiverID  string     `gorm:"column:receiver_id;type:varchar(64);not null;index:idx_receiver_ts,priority:1;index:idx_sender_receiver_ts,priority:2;index:idx_undelivered_receiver,priority:2"`
	Content     string     `gorm:"column:content;type:text;not null"`
	Timestamp   int64      `gorm:"column:timestamp;not null;index:idx_receiver_ts,priority:2;index:idx_sender_receiver_ts,priority:3"`
	Undelivered bool       `gorm:"column:undelivered;not null;default:true;index:idx_undelivered_receiver,priority:1"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	ReadAt      *time.Time `gorm:"column:read_at"`
}

func (Message) TableName() string { return "messages" }

// Clone returns a shallow copy safe to hand to callers outside the store.
func (m Message) Clone() *Message {
	c := m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}
