// Package queue implements the Message Queue (spec.md §4.4): the durable,
// at-least-once handoff between Ingress and Dispatcher. Grounded on the
// teacher's internal/handler/amqp package for the watermill idioms (trace-id
// and logging middleware, retry policy, poison-queue dead-lettering) and on
// ThreeDotsLabs/watermill-amqp/v3 for the durable transport itself, in
// place of the teacher's now-deleted infra/pubsub factory abstraction.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/webitel/chat-delivery-service/internal/apperr"
	"github.com/webitel/chat-delivery-service/internal/domain/model"
	"github.com/webitel/chat-delivery-service/internal/telemetry"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectInterval = 5 * time.Second

	// PoisonRedeliveryLimit is the Open-Question decision recorded in
	// SPEC_FULL.md §9: after this many redeliveries a payload is routed to
	// the poison queue instead of being retried forever.
	PoisonRedeliveryLimit = 5

	poisonQueueSuffix = ".poison"
)

// Handler processes one dequeued item. Returning nil acks the message.
// Under Consume, a returned error is retried in-process up to
// PoisonRedeliveryLimit times, after which the payload is published to the
// poison queue and acked on the main queue.
type Handler func(ctx context.Context, item model.QueueItem) error

// Queue is the behavior contract for the durable send/consume handoff.
type Queue interface {
	Publish(ctx context.Context, item model.QueueItem) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

type amqpQueue struct {
	queueName string
	logger    *slog.Logger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
}

// New dials amqpURI and builds a durable, persistent queue named
// queueName, with the AMQP heartbeat set to heartbeatInterval. The
// reconnect cadence is left to the driver's defaults; reconnectInterval is
// not applied to the connection config.
func New(amqpURI, queueName string, logger *slog.Logger) (Queue, error) {
	wlogger := watermill.NewSlogLogger(logger)

	// NewDurableQueueConfig wires a single named, durable queue bound to the
	// default exchange — point-to-point handoff, not the teacher's
	// topic-exchange fan-out, since spec.md §4.4 describes one FIFO queue
	// between Ingress and Dispatcher rather than a pub/sub topology.
	connConfig := wamqp.NewDurableQueueConfig(amqpURI)
	connConfig.Connection.AmqpConfig.Heartbeat = heartbeatInterval
	// The underlying amqp091-go dialer retries failed connections on its
	// own backoff; reconnectInterval documents the spec's target cadence
	// rather than configuring a field this driver version exposes.

	publisher, err := wamqp.NewPublisher(connConfig, wlogger)
	if err != nil {
		return nil, apperr.QueueConnection(err)
	}

	subscriber, err := wamqp.NewSubscriber(connConfig, wlogger)
	if err != nil {
		return nil, apperr.QueueConnection(err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wlogger)
	if err != nil {
		return nil, apperr.QueueConsumeFailed(err)
	}

	return &amqpQueue{
		queueName:  queueName,
		logger:     logger,
		publisher:  publisher,
		subscriber: subscriber,
		router:     router,
	}, nil
}

func (q *amqpQueue) Publish(ctx context.Context, item model.QueueItem) error {
	ctx, span := telemetry.StartSpan(ctx, "queue.Publish")
	defer span.End()

	payload, err := json.Marshal(item)
	if err != nil {
		return apperr.QueuePublishFailed(err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("trace_id", uuid.NewString())
	msg.SetContext(ctx)

	if err := q.publisher.Publish(q.queueName, msg); err != nil {
		return apperr.QueuePublishFailed(err)
	}
	return nil
}

// Consume wires handler behind the poison-queue and retry middleware
// stack the teacher's router.go assembles, then blocks running the
// router until ctx is cancelled.
func (q *amqpQueue) Consume(ctx context.Context, handler Handler) error {
	poison, err := middleware.PoisonQueue(q.publisher, q.queueName+poisonQueueSuffix)
	if err != nil {
		return apperr.QueueConsumeFailed(err)
	}

	q.router.AddMiddleware(
		traceIDMiddleware,
		loggingMiddleware(q.logger),
		newRetryMiddleware().Middleware,
		poison,
	)

	q.router.AddNoPublisherHandler(
		"dispatcher-consumer",
		q.queueName,
		q.subscriber,
		bind(handler),
	)

	if err := q.router.Run(ctx); err != nil {
		return apperr.QueueConsumeFailed(err)
	}
	return nil
}

func (q *amqpQueue) Close() error {
	if err := q.router.Close(); err != nil {
		return err
	}
	if err := q.publisher.Close(); err != nil {
		return err
	}
	return q.subscriber.Close()
}

// bind adapts a domain Handler to watermill's ack/nack contract. A decode
// failure is returned as an error rather than acked, so it goes through
// the same retry middleware as a handler failure and ends in the poison
// queue once the retries are spent.
func bind(handler Handler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx, span := telemetry.StartSpan(msg.Context(), "queue.bind")
		defer span.End()

		var item model.QueueItem
		if err := json.Unmarshal(msg.Payload, &item); err != nil {
			return fmt.Errorf("dispatcher: malformed queue payload: %w", err)
		}
		return handler(ctx, item)
	}
}

// newRetryMiddleware bounds redelivery at PoisonRedeliveryLimit attempts
// before the poison-queue middleware dead-letters the payload (spec.md
// §4.4, mirroring the teacher's handler/amqp/middleware.go NewRetryMiddleware).
func newRetryMiddleware() middleware.Retry {
	return middleware.Retry{
		MaxRetries:      PoisonRedeliveryLimit,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
		Multiplier:      2.0,
	}
}

func traceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get("trace_id")
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set("trace_id", traceID)
		}
		msg.SetContext(context.WithValue(msg.Context(), traceIDKey{}, traceID))
		return h(msg)
	}
}

type traceIDKey struct{}

func loggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			out, err := h(msg)
			logger.Debug("queue message handled",
				"msg_id", msg.UUID,
				"trace_id", msg.Metadata.Get("trace_id"),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return out, err
		}
	}
}
