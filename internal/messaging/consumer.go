package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Handler processes a single event. Returning an error nacks the message so
// that it is delivered again, unless the error is Permanent.
type Handler[T any] func(ctx context.Context, event *T) error

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that redelivery cannot fix. The message is
// acked and dropped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError

	return errors.As(err, &p)
}

// Consumer subscribes to a topic and processes messages with a typed handler.
type Consumer[T any] struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler[T]
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a new generic consumer for a specific event type.
func NewConsumer[T any](
	subscriber message.Subscriber,
	topic string,
	handler Handler[T],
	logger *zap.Logger,
) *Consumer[T] {
	return &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		logger:     logger.With(zap.String("topic", topic)),
		done:       make(chan struct{}),
	}
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Start begins consuming messages from the topic.
func (c *Consumer[T]) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		c.cancel()
		close(c.done)

		return err
	}

	go c.consumeLoop(ctx, msgs)

	return nil
}

func (c *Consumer[T]) consumeLoop(ctx context.Context, msgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			c.handleMessage(ctx, msg)
		}
	}
}

// Outcomes a message can be settled with.
const (
	OutcomeHandled     = "handled"
	OutcomeRetry       = "retry"
	OutcomeDropped     = "dropped"
	OutcomeUndecodable = "undecodable"
)

func (c *Consumer[T]) handleMessage(ctx context.Context, msg *message.Message) {
	outcome := c.settle(ctx, msg)
	metrics.MessagesConsumed.WithLabelValues(c.topic, outcome).Inc()

	if outcome == OutcomeRetry {
		msg.Nack()

		return
	}

	msg.Ack()
}

// settle runs the handler and decides whether the message comes back.
// Undecodable and permanently failing messages would come back forever.
func (c *Consumer[T]) settle(ctx context.Context, msg *message.Message) string {
	log := c.logger.With(zap.String("messageId", msg.UUID))

	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		log.Error("dropping undecodable message", zap.Error(err))

		return OutcomeUndecodable
	}

	err := c.handler(ctx, &event)

	switch {
	case err == nil:
		log.Debug("processed message")

		return OutcomeHandled
	case IsPermanent(err):
		log.Error("dropping message", zap.Error(err))

		return OutcomeDropped
	default:
		log.Warn("failed to handle message, requesting redelivery", zap.Error(err))

		return OutcomeRetry
	}
}

// Shutdown stops the consumer and waits for in-flight messages to complete.
func (c *Consumer[T]) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}

	<-c.done

	return nil
}
