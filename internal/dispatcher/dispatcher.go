// Package dispatcher implements the Consume Path (spec.md §4.6): for each
// queued item, decide live-vs-offline delivery and shard work by
// receiverId to preserve per-recipient ordering (spec.md §5) while
// permitting cross-recipient parallelism. Grounded on the teacher's
// bind.go for the ack/nack decision tree and on golang.org/x/sync/errgroup,
// the fan-out primitive the teacher's (deleted) peer_enricher.go used for
// concurrent per-item work.
package dispatcher

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webitel/chat-delivery-service/internal/cache"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
)

// Gateway is the slice of the Session Gateway the Dispatcher depends on
// (spec.md §4.7's SendToUser contract). Defined here, implemented there,
// to avoid a gateway->dispatcher import cycle.
type Gateway interface {
	SendToUser(userID string, ev model.Eventer) bool
}

// Dispatcher is the behavior contract for the consume path.
type Dispatcher struct {
	shardCount int
	shards     []chan workItem

	cache   cache.InboxCache
	gateway Gateway
	logger  *slog.Logger
}

type workItem struct {
	item model.QueueItem
	done chan error
}

// New builds a Dispatcher with shardCount independent worker goroutines,
// each owning a FIFO channel keyed by a hash of receiverId, so per-
// recipient enqueue order survives the parallel fan-out (spec.md §5).
func New(c cache.InboxCache, gw Gateway, logger *slog.Logger, shardCount int) *Dispatcher {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &Dispatcher{
		shardCount: shardCount,
		shards:     make([]chan workItem, shardCount),
		cache:      c,
		gateway:    gw,
		logger:     logger,
	}
}

// Run starts the shard workers and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < d.shardCount; i++ {
		shard := make(chan workItem, 64)
		d.shards[i] = shard
		g.Go(func() error {
			return d.runShard(ctx, shard)
		})
	}

	<-ctx.Done()
	for _, shard := range d.shards {
		close(shard)
	}
	return g.Wait()
}

func (d *Dispatcher) runShard(ctx context.Context, shard chan workItem) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-shard:
			if !ok {
				return nil
			}
			err := d.handle(ctx, w.item)
			w.done <- err
		}
	}
}

// Handle is the queue.Handler this Dispatcher exposes to the Queue's
// Consume loop. It routes the item to the shard owning its receiverId and
// waits for that shard to process it, preserving per-recipient FIFO order
// even though the underlying queue consumer may be single-threaded.
func (d *Dispatcher) Handle(ctx context.Context, item model.QueueItem) error {
	shard := d.shards[d.shardFor(item.ReceiverID)]
	done := make(chan error, 1)

	select {
	case shard <- workItem{item: item, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) shardFor(receiverID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(receiverID))
	return int(h.Sum32()) % d.shardCount
}

// handle implements spec.md §4.6 steps 1-4.
func (d *Dispatcher) handle(ctx context.Context, item model.QueueItem) error {
	online, err := d.cache.IsUserOnline(ctx, item.ReceiverID)
	if err != nil {
		return err
	}

	if online {
		ev := model.NewIncomingMessageEvent(item.ReceiverID, model.IncomingMessagePayload{
			MessageID: item.MessageID,
			SenderID:  item.SenderID,
			Content:   item.Content,
			Timestamp: parseTimestampMillis(item.Timestamp),
		})
		if d.gateway.SendToUser(item.ReceiverID, ev) {
			return nil
		}
		// Not delivered locally: presence was stale, or the receiver is
		// bound to another instance. Fall through to offline deposit.
	}

	if err := d.cache.AddToInbox(ctx, item.ReceiverID, item.MessageID); err != nil {
		return err
	}

	if err := d.cache.CacheMessage(ctx, item.MessageID, cache.CachedMessage{
		SenderID:   item.SenderID,
		ReceiverID: item.ReceiverID,
		Content:    item.Content,
		Timestamp:  parseTimestampMillis(item.Timestamp),
	}); err != nil {
		// The short-horizon cache is a fast-path optimization, not a
		// correctness requirement (the store remains authoritative), so
		// its failure is logged but does not nack the queue item.
		d.logger.Warn("dispatcher: message cache write failed", "message_id", item.MessageID, "error", err)
	}

	return nil
}

// parseTimestampMillis converts the queue item's ISO-8601 timestamp
// (spec.md §4.5 step 2) back into epoch milliseconds for the outbound
// IncomingMessage event, which spec.md §4.6 defines in millis.
func parseTimestampMillis(iso string) int64 {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
