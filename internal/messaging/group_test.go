package messaging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stepLog records start and stop calls across members in order.
type stepLog struct {
	steps []string
}

type fakeRunnable struct {
	name        string
	log         *stepLog
	startErr    error
	shutdownErr error
}

func (f *fakeRunnable) Start(_ context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}

	f.log.steps = append(f.log.steps, "start "+f.name)

	return nil
}

func (f *fakeRunnable) Shutdown() error {
	f.log.steps = append(f.log.steps, "stop "+f.name)

	return f.shutdownErr
}

func TestConsumerGroup_Start(t *testing.T) {
	t.Run("starts members in order", func(t *testing.T) {
		log := &stepLog{}
		group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		group.Add("replay", &fakeRunnable{name: "replay", log: log})
		group.Add("audit", &fakeRunnable{name: "audit", log: log})

		require.NoError(t, group.Start(context.Background()))
		assert.Equal(t, []string{"start replay", "start audit"}, log.steps)
	})

	t.Run("stops started members when one fails", func(t *testing.T) {
		log := &stepLog{}
		group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		group.Add("first", &fakeRunnable{name: "first", log: log})
		group.Add("second", &fakeRunnable{name: "second", log: log})
		group.Add("broken", &fakeRunnable{name: "broken", log: log, startErr: errors.New("no stream")})

		err := group.Start(context.Background())

		require.ErrorContains(t, err, "starting consumer broken: no stream")
		assert.Equal(t, []string{"start first", "start second", "stop second", "stop first"}, log.steps)
	})
}

func TestConsumerGroup_Shutdown(t *testing.T) {
	t.Run("stops members in reverse and closes the subscriber", func(t *testing.T) {
		log := &stepLog{}
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		group.Add("a", &fakeRunnable{name: "a", log: log})
		group.Add("b", &fakeRunnable{name: "b", log: log})
		require.NoError(t, group.Start(context.Background()))

		require.NoError(t, group.Shutdown())

		assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log.steps)
		assert.True(t, sub.closed)
	})

	t.Run("reports every failure and still stops all", func(t *testing.T) {
		log := &stepLog{}
		group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		group.Add("a", &fakeRunnable{name: "a", log: log, shutdownErr: errors.New("a stuck")})
		group.Add("b", &fakeRunnable{name: "b", log: log, shutdownErr: errors.New("b stuck")})
		require.NoError(t, group.Start(context.Background()))

		err := group.Shutdown()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "stopping consumer a: a stuck")
		assert.Contains(t, err.Error(), "stopping consumer b: b stuck")
		assert.Contains(t, log.steps, "stop a")
	})

	t.Run("is idempotent", func(t *testing.T) {
		log := &stepLog{}
		group := messaging.NewConsumerGroup(newMockSubscriber(), zap.NewNop())
		group.Add("a", &fakeRunnable{name: "a", log: log})
		require.NoError(t, group.Start(context.Background()))

		require.NoError(t, group.Shutdown())
		require.NoError(t, group.Shutdown())

		assert.Equal(t, []string{"start a", "stop a"}, log.steps)
	})
}
