package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/messaging"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	topics   []string
	messages []*message.Message
	err      error
	closeErr error
	closed   bool
}

func (r *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	if r.err != nil {
		return r.err
	}

	for range msgs {
		r.topics = append(r.topics, topic)
	}

	r.messages = append(r.messages, msgs...)

	return nil
}

func (r *recordingPublisher) Close() error {
	r.closed = true

	return r.closeErr
}

type failedBatch struct {
	Table string   `json:"table"`
	Rows  []string `json:"rows"`
}

type ctxKey struct{}

func TestNewPublishFunc(t *testing.T) {
	t.Run("publishes one JSON message per event", func(t *testing.T) {
		pub := &recordingPublisher{}
		publish := messaging.NewPublishFunc[failedBatch](pub, "events.failed")

		require.NoError(t, publish(context.Background(), &failedBatch{Table: "events", Rows: []string{"a"}}))
		require.NoError(t, publish(context.Background(), &failedBatch{Table: "events", Rows: []string{"b"}}))

		require.Len(t, pub.messages, 2)
		assert.Equal(t, []string{"events.failed", "events.failed"}, pub.topics)
		assert.JSONEq(t, `{"table":"events","rows":["a"]}`, string(pub.messages[0].Payload))
		assert.NotEqual(t, pub.messages[0].UUID, pub.messages[1].UUID)
	})

	t.Run("stamps the publish time and carries the context", func(t *testing.T) {
		pub := &recordingPublisher{}
		publish := messaging.NewPublishFunc[failedBatch](pub, "events.failed")
		ctx := context.WithValue(context.Background(), ctxKey{}, "request")

		require.NoError(t, publish(ctx, &failedBatch{}))

		msg := pub.messages[0]
		publishedAt, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(messaging.MetadataPublishedAt))
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), publishedAt, time.Minute)
		assert.Equal(t, "request", msg.Context().Value(ctxKey{}))
	})

	t.Run("wraps publisher errors with the topic", func(t *testing.T) {
		cause := errors.New("stream unavailable")
		publish := messaging.NewPublishFunc[failedBatch](&recordingPublisher{err: cause}, "events.failed")

		err := publish(context.Background(), &failedBatch{})

		require.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "events.failed")
	})
}

func TestPublisherGroup(t *testing.T) {
	t.Run("exposes the publisher", func(t *testing.T) {
		pub := &recordingPublisher{}

		assert.Same(t, pub, messaging.NewPublisherGroup(pub).Publisher())
	})

	t.Run("closes the publisher on shutdown", func(t *testing.T) {
		pub := &recordingPublisher{closeErr: errors.New("close failed")}

		err := messaging.NewPublisherGroup(pub).Shutdown()

		require.Error(t, err)
		assert.True(t, pub.closed)
	})
}
