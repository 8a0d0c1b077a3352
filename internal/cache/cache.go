// Package cache implements the Inbox Cache (spec.md §4.3): the
// per-recipient pending-message list, the presence hint, and the
// short-horizon message hash, all backed by Redis with the bit-exact key
// schema spec.md §6 pins down. Grounded on the redis/go-redis/v9 driver
// choice shared by ceyewan-resonance and d60-Lab-RelationGraph, and on
// the teacher's (unused) sony/gobreaker dependency, wired here around
// every Redis round-trip so a saturated cache fails fast with
// CacheOperationFailed instead of hanging ingress/ack callers.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/webitel/chat-delivery-service/internal/apperr"
	"github.com/webitel/chat-delivery-service/internal/telemetry"
)

const (
	connectionTTL = time.Hour
	inboxTTL      = 365 * 24 * time.Hour
	messageTTL    = 24 * time.Hour

	opTimeout = 3 * time.Second
)

func connectionKey(userID string) string { return fmt.Sprintf("ws:connection:%s", userID) }
func inboxKey(userID string) string      { return fmt.Sprintf("inbox:%s", userID) }
func messageKey(messageID string) string { return fmt.Sprintf("msg:%s", messageID) }

// CachedMessage is the short-horizon fast-fetch record stored at
// msg:{messageId} (spec.md §4.6 step 3 / §6).
type CachedMessage struct {
	SenderID   string `redis:"senderId"`
	ReceiverID string `redis:"receiverId"`
	Content    string `redis:"content"`
	Timestamp  int64  `redis:"timestamp"`
}

// InboxCache is the behavior contract for the presence/pending-list
// subsystem (spec.md §4.3).
type InboxCache interface {
	AddToInbox(ctx context.Context, userID, messageID string) error
	GetInbox(ctx context.Context, userID string) ([]string, error)
	RemoveFromInbox(ctx context.Context, userID, messageID string) error
	ClearInbox(ctx context.Context, userID string) error

	SetUserConnection(ctx context.Context, userID, serverID string) error
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	RemoveUserConnection(ctx context.Context, userID string) error
	GetUserServerID(ctx context.Context, userID string) (string, bool, error)

	CacheMessage(ctx context.Context, messageID string, msg CachedMessage) error
	GetCachedMessage(ctx context.Context, messageID string) (*CachedMessage, bool, error)
}

type redisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// New wraps client with the circuit breaker described in SPEC_FULL.md
// §4.3. maxFailures trips the breaker open for openTimeout once that many
// consecutive Redis operations have failed.
func New(client *redis.Client, maxFailures uint32, openTimeout time.Duration) InboxCache {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inbox-cache",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	return &redisCache{client: client, breaker: cb}
}

// call executes fn through the circuit breaker with a bounded context
// (spec.md §5: "Cache operations SHOULD have a timeout"), collapsing any
// failure — Redis error or open-breaker rejection — to CacheOperationFailed.
func (c *redisCache) call(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "cache."+op)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return apperr.CacheOperationFailed(op, key, err)
	}
	return nil
}

func (c *redisCache) AddToInbox(ctx context.Context, userID, messageID string) error {
	key := inboxKey(userID)
	return c.call(ctx, "AddToInbox", key, func(ctx context.Context) error {
		// Idempotence guard recommended by spec.md §4.6: skip the append if
		// the id is already pending, so an at-least-once redelivery does
		// not duplicate the recipient's backlog.
		existing, err := c.client.LRange(ctx, key, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		for _, id := range existing {
			if id == messageID {
				return c.client.Expire(ctx, key, inboxTTL).Err()
			}
		}

		pipe := c.client.TxPipeline()
		pipe.RPush(ctx, key, messageID)
		pipe.Expire(ctx, key, inboxTTL)
		_, err = pipe.Exec(ctx)
		return err
	})
}

func (c *redisCache) GetInbox(ctx context.Context, userID string) ([]string, error) {
	key := inboxKey(userID)
	var out []string
	err := c.call(ctx, "GetInbox", key, func(ctx context.Context) error {
		res, err := c.client.LRange(ctx, key, 0, -1).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (c *redisCache) RemoveFromInbox(ctx context.Context, userID, messageID string) error {
	key := inboxKey(userID)
	return c.call(ctx, "RemoveFromInbox", key, func(ctx context.Context) error {
		// count=1: remove only the first occurrence, per spec.md §4.3.
		return c.client.LRem(ctx, key, 1, messageID).Err()
	})
}

func (c *redisCache) ClearInbox(ctx context.Context, userID string) error {
	key := inboxKey(userID)
	return c.call(ctx, "ClearInbox", key, func(ctx context.Context) error {
		return c.client.Del(ctx, key).Err()
	})
}

func (c *redisCache) SetUserConnection(ctx context.Context, userID, serverID string) error {
	key := connectionKey(userID)
	return c.call(ctx, "SetUserConnection", key, func(ctx context.Context) error {
		return c.client.Set(ctx, key, serverID, connectionTTL).Err()
	})
}

func (c *redisCache) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	key := connectionKey(userID)
	var online bool
	err := c.call(ctx, "IsUserOnline", key, func(ctx context.Context) error {
		n, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		online = n > 0
		return nil
	})
	return online, err
}

func (c *redisCache) RemoveUserConnection(ctx context.Context, userID string) error {
	key := connectionKey(userID)
	return c.call(ctx, "RemoveUserConnection", key, func(ctx context.Context) error {
		return c.client.Del(ctx, key).Err()
	})
}

func (c *redisCache) GetUserServerID(ctx context.Context, userID string) (string, bool, error) {
	key := connectionKey(userID)
	var serverID string
	var found bool
	err := c.call(ctx, "GetUserServerId", key, func(ctx context.Context) error {
		v, err := c.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		serverID, found = v, true
		return nil
	})
	return serverID, found, err
}

func (c *redisCache) CacheMessage(ctx context.Context, messageID string, msg CachedMessage) error {
	key := messageKey(messageID)
	return c.call(ctx, "CacheMessage", key, func(ctx context.Context) error {
		pipe := c.client.TxPipeline()
		pipe.HSet(ctx, key, "senderId", msg.SenderID, "receiverId", msg.ReceiverID, "content", msg.Content, "timestamp", msg.Timestamp)
		pipe.Expire(ctx, key, messageTTL)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (c *redisCache) GetCachedMessage(ctx context.Context, messageID string) (*CachedMessage, bool, error) {
	key := messageKey(messageID)
	var out *CachedMessage
	err := c.call(ctx, "GetCachedMessage", key, func(ctx context.Context) error {
		var msg CachedMessage
		if err := c.client.HGetAll(ctx, key).Scan(&msg); err != nil {
			return err
		}
		if msg.SenderID == "" {
			return nil
		}
		out = &msg
		return nil
	})
	return out, out != nil, err
}
