package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/container"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/delivery"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const drainTimeout = 30 * time.Second

func registerPackages(injector *do.Injector, options *container.Options) {
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.PostgresPackage(injector)
	container.KVPackage(injector)
	container.LookupPackage(injector)
	container.RateLimitPackage(injector)
	container.WarehousePackage(injector)
	container.PublisherGroupPackage(injector)
	container.DeliveryPackage(injector)
	container.HTTPPackage(injector)
}

func main() {
	var opts *container.Options

	cli := humacli.New(func(hooks humacli.Hooks, options *container.Options) {
		opts = options

		if err := options.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "invalid configuration:", err)
			os.Exit(1)
		}

		injector := do.New()
		registerPackages(injector, options)

		var server *http.Server

		hooks.OnStart(func() {
			logger := do.MustInvoke[*zap.Logger](injector)
			router := do.MustInvoke[*chi.Mux](injector)

			// Invoke API to trigger route registration
			_ = do.MustInvoke[huma.API](injector)

			server = &http.Server{
				Addr:              fmt.Sprintf(":%d", options.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			logger.Info("server starting",
				zap.Int("port", options.Port),
				zap.String("environment", options.Environment),
				zap.String("kvBackend", options.KVBackend),
			)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			logger := do.MustInvoke[*zap.Logger](injector)
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()

			if server != nil {
				if err := server.Shutdown(ctx); err != nil {
					logger.Error("server shutdown error", zap.Error(err))
				}
			}

			// Queued deliveries are drained before the injector closes the
			// publisher they may dead-letter to.
			if dispatcher, err := do.Invoke[*delivery.Dispatcher](injector); err == nil {
				if err := dispatcher.ShutdownContext(ctx); err != nil {
					logger.Error("delivery drain incomplete", zap.Error(err))
				}
			}

			if err := injector.Shutdown(); err != nil {
				logger.Error("service shutdown error", zap.Error(err))
			}

			logger.Info("shutdown complete")
			_ = logger.Sync()
		})
	})

	cli.Root().Use = "tracking-server"
	cli.Root().AddCommand(&cobra.Command{
		Use:   "openapi",
		Short: "Print the OpenAPI document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := container.NewSpecAPI(opts).OpenAPI().YAML()
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(spec)

			return err
		},
	})

	cli.Run()
}
