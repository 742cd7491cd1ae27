package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/container"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/messaging"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/samber/do"
	"go.uber.org/zap"
)

// The consumer replays batches the server dead-lettered. It reads the same
// configuration as the server.
func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		if err := options.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid configuration:", err)
			os.Exit(1)
		}

		injector := do.New()
		do.ProvideValue(injector, options)
		container.LoggerPackage(injector)
		container.RedisPackage(injector)
		container.WarehousePackage(injector)
		container.DeliveryPackage(injector)
		container.ConsumerGroupPackage(injector)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			logger := do.MustInvoke[*zap.Logger](injector)
			group := do.MustInvoke[*messaging.ConsumerGroup](injector)

			if err := group.Start(ctx); err != nil {
				logger.Fatal("failed to start consumer group", zap.Error(err))
			}

			logger.Info("replaying failed batches",
				zap.String("topic", options.DeadLetterTopic),
				zap.String("consumerGroup", options.ConsumerGroup),
			)

			<-done
		})

		hooks.OnStop(func() {
			logger := do.MustInvoke[*zap.Logger](injector)
			logger.Info("shutting down")
			cancel()

			if err := injector.Shutdown(); err != nil {
				logger.Error("shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
			close(done)
		})
	})

	cli.Root().Use = "tracking-consumer"
	cli.Run()
}
