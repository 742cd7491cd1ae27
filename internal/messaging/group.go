package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is a component with a start and stop.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

type member struct {
	name string
	run  Runnable
}

// ConsumerGroup starts consumers sharing one subscriber and stops them
// together. Members stop in reverse start order, then the subscriber closes.
type ConsumerGroup struct {
	members    []member
	started    int
	subscriber message.Subscriber
	logger     *zap.Logger

	mu       sync.Mutex
	stopOnce sync.Once
	stopErr  error
}

// NewConsumerGroup creates an empty group over subscriber.
func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Add registers a consumer under name. Call before Start.
func (g *ConsumerGroup) Add(name string, consumer Runnable) {
	g.members = append(g.members, member{name: name, run: consumer})
}

// Start starts members in order. If one fails the ones already running are
// stopped and the group is unusable.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		if err := m.run.Start(ctx); err != nil {
			startErr := fmt.Errorf("starting consumer %s: %w", m.name, err)

			return errors.Join(startErr, g.stopStarted())
		}

		g.started++
		g.logger.Debug("consumer started", zap.String("consumer", m.name))
	}

	g.logger.Info("consumer group started", zap.Int("count", len(g.members)))

	return nil
}

// Shutdown stops every started member and closes the subscriber. It is safe
// to call more than once and reports all failures.
func (g *ConsumerGroup) Shutdown() error {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		g.logger.Info("shutting down consumer group")

		errs := []error{g.stopStarted()}

		if err := g.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing subscriber: %w", err))
		}

		g.stopErr = errors.Join(errs...)
	})

	return g.stopErr
}

func (g *ConsumerGroup) stopStarted() error {
	var errs []error

	for ; g.started > 0; g.started-- {
		m := g.members[g.started-1]

		if err := m.run.Shutdown(); err != nil {
			g.logger.Warn("consumer shutdown failed", zap.String("consumer", m.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("stopping consumer %s: %w", m.name, err))
		}
	}

	return errors.Join(errs...)
}
