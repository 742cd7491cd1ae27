package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/delivery"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/handlers"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/health"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/identity"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/logger"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/messaging"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/middleware"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/personalization"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/ratelimit"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/store"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/token"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/warehouse"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
)

const (
	apiTitle   = "Email Tracking"
	apiVersion = "1.0.0"

	warehouseHTTPTimeout = 15 * time.Second
	startupTimeout       = 10 * time.Second
)

// redisConnection closes the shared client when the injector shuts down.
type redisConnection struct {
	client *redis.Client
}

func (c *redisConnection) Shutdown() error {
	return c.client.Close()
}

// postgresConnection closes the pool when the injector shuts down.
type postgresConnection struct {
	pool *pgxpool.Pool
}

func (c *postgresConnection) Shutdown() error {
	c.pool.Close()

	return nil
}

// LoggerPackage provides the *zap.Logger.
func LoggerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		return logger.New(opts.LogFormat, opts.LogLevel)
	})
}

// RedisPackage provides the shared *redis.Client.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redisConnection, error) {
		opts := do.MustInvoke[*Options](i)

		return &redisConnection{client: redis.NewClient(&redis.Options{Addr: opts.RedisAddr})}, nil
	})

	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		return do.MustInvoke[*redisConnection](i).client, nil
	})
}

// PostgresPackage provides the *pgxpool.Pool backing the postgres KV store.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*postgresConnection, error) {
		opts := do.MustInvoke[*Options](i)

		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		pool, err := pgxpool.New(ctx, opts.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}

		return &postgresConnection{pool: pool}, nil
	})

	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		return do.MustInvoke[*postgresConnection](i).pool, nil
	})
}

// KVPackage provides the kv.ReadWriter selected by --kv-backend and the
// health.Checker that reports on it.
func KVPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (kv.ReadWriter, error) {
		opts := do.MustInvoke[*Options](i)
		log := do.MustInvoke[*zap.Logger](i)

		switch opts.KVBackend {
		case BackendRedis:
			return store.NewRedisStore(do.MustInvoke[*redis.Client](i)), nil
		case BackendPostgres:
			pg := store.NewPostgresStore(do.MustInvoke[*pgxpool.Pool](i))

			ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
			defer cancel()

			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrating kv store: %w", err)
			}

			if opts.KVCacheTTL <= 0 {
				return pg, nil
			}

			return store.NewRedisCache(pg, do.MustInvoke[*redis.Client](i), time.Duration(opts.KVCacheTTL)*time.Second), nil
		case BackendMemory:
			log.Warn("using the in-memory kv store, lookups start empty")

			return store.NewMemoryStore(), nil
		default:
			return nil, fmt.Errorf("unknown kv backend %q", opts.KVBackend)
		}
	})

	do.Provide(injector, func(i *do.Injector) (health.Checker, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.KVBackend {
		case BackendRedis:
			return health.NewRedisChecker(do.MustInvoke[*redis.Client](i)), nil
		case BackendPostgres:
			return do.MustInvoke[*pgxpool.Pool](i), nil
		default:
			return nil, nil
		}
	})
}

// LookupPackage provides the identity resolver and personalization reader.
func LookupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*identity.Resolver, error) {
		opts := do.MustInvoke[*Options](i)
		backend := do.MustInvoke[kv.ReadWriter](i)

		return identity.NewResolver(
			kv.NewNamespace(backend, opts.IdentityPrefix),
			do.MustInvoke[*zap.Logger](i),
			identity.WithLifetime(opts.IdentityLifetime()),
		), nil
	})

	do.Provide(injector, func(i *do.Injector) (*personalization.Reader, error) {
		opts := do.MustInvoke[*Options](i)
		backend := do.MustInvoke[kv.ReadWriter](i)

		return personalization.NewReader(
			kv.NewNamespace(backend, opts.PersonalizationPrefix),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
}

// sweptCounter forgets idle in-memory counters on a ticker until shut down.
type sweptCounter struct {
	*store.MemoryCounter
	stop chan struct{}
	done chan struct{}
}

const (
	sweepInterval = time.Minute
	sweepIdle     = 10 * time.Minute
)

func newSweptCounter() *sweptCounter {
	c := &sweptCounter{
		MemoryCounter: store.NewMemoryCounter(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep(sweepIdle)
			case <-c.stop:
				return
			}
		}
	}()

	return c
}

func (c *sweptCounter) Shutdown() error {
	close(c.stop)
	<-c.done

	return nil
}

// RateLimitPackage provides the *ratelimit.Limiter over a Redis or
// in-memory counter.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*sweptCounter, error) {
		return newSweptCounter(), nil
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)

		var counter ratelimit.Counter
		if opts.RateLimitStore == BackendRedis {
			counter = store.NewRedisCounter(do.MustInvoke[*redis.Client](i))
		} else {
			counter = do.MustInvoke[*sweptCounter](i)
		}

		return ratelimit.NewLimiter(counter, ratelimit.DefaultPolicy()), nil
	})
}

// WarehousePackage provides the warehouse.Inserter: a breaker in front of
// the insertAll client authenticated by the token issuer.
func WarehousePackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (warehouse.Inserter, error) {
		opts := do.MustInvoke[*Options](i)
		log := do.MustInvoke[*zap.Logger](i)

		secret, err := opts.WarehouseSecret()
		if err != nil {
			return nil, err
		}

		if len(secret) == 0 {
			log.Warn("no warehouse credentials configured, deliveries will fail")
		}

		if opts.WarehouseProject == "" || opts.WarehouseDataset == "" {
			log.Warn("warehouse project or dataset not configured")
		}

		httpClient := warehouse.NewHTTPClient(warehouseHTTPTimeout)

		var tokens token.Source = token.NewIssuer(secret, token.WithHTTPClient(httpClient))
		if opts.TokenCache {
			tokens = token.NewCachingSource(tokens)
		}

		client := warehouse.NewClient(httpClient, tokens, opts.WarehouseEndpoint, opts.WarehouseProject, opts.WarehouseDataset)

		return warehouse.NewBreakerInserter(client, warehouse.DefaultBreakerSettings(), log), nil
	})
}

// PublisherGroupPackage provides the *messaging.PublisherGroup on Redis Streams.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client:     do.MustInvoke[*redis.Client](i),
				Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
			},
			messaging.NewZapLoggerAdapter(do.MustInvoke[*zap.Logger](i)),
		)
		if err != nil {
			return nil, fmt.Errorf("creating publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})
}

// DeliveryPackage provides the *delivery.Sink and the *delivery.Dispatcher,
// which dead-letters failed batches when enabled.
func DeliveryPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*delivery.Sink, error) {
		opts := do.MustInvoke[*Options](i)

		return delivery.NewSink(do.MustInvoke[warehouse.Inserter](i), opts.WarehouseTable, do.MustInvoke[*zap.Logger](i))
	})

	do.Provide(injector, func(i *do.Injector) (*delivery.Dispatcher, error) {
		opts := do.MustInvoke[*Options](i)
		log := do.MustInvoke[*zap.Logger](i)

		var dispatcherOpts []delivery.DispatcherOption

		if opts.DeadLetter {
			group := do.MustInvoke[*messaging.PublisherGroup](i)
			publish := messaging.NewPublishFunc[delivery.FailedBatch](group.Publisher(), opts.DeadLetterTopic)
			dispatcherOpts = append(dispatcherOpts, delivery.WithDeadLetter(delivery.DeadLetter(publish)))

			log.Info("dead-lettering failed batches", zap.String("topic", opts.DeadLetterTopic))
		}

		return delivery.NewDispatcher(
			do.MustInvoke[*delivery.Sink](i),
			opts.DispatcherConfig(),
			log,
			dispatcherOpts...,
		), nil
	})
}

// NewRouter builds the chi router: CORS for every path and /metrics when
// enabled. API routes are added by NewAPI.
func NewRouter(opts *Options) *chi.Mux {
	router := chi.NewMux()
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.CORS(opts.OriginPolicy()))

	if opts.Metrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	return router
}

// NewAPIConfig returns the huma configuration. Responses carry no $schema
// links since the tracker reads them as plain JSON.
func NewAPIConfig() huma.Config {
	config := huma.DefaultConfig(apiTitle, apiVersion)
	config.CreateHooks = nil

	return config
}

// HTTPPackage provides the *chi.Mux and the huma.API with every route
// registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*chi.Mux, error) {
		opts := do.MustInvoke[*Options](i)
		log := do.MustInvoke[*zap.Logger](i)

		policy := opts.OriginPolicy()
		if policy.Development() {
			log.Warn("development environment: every origin is allowed")
		} else if len(policy.Origins()) == 0 {
			log.Warn("no allowed origins configured, /track rejects every browser")
		}

		return NewRouter(opts), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		log := do.MustInvoke[*zap.Logger](i)
		router := do.MustInvoke[*chi.Mux](i)

		api := humachi.New(router, NewAPIConfig())
		api.UseMiddleware(middleware.RequestMeta(api))

		if opts.RateLimit {
			api.UseMiddleware(middleware.RateLimit(
				api,
				do.MustInvoke[*ratelimit.Limiter](i),
				ratelimit.ByOperation,
				log,
			))
		}

		dispatcher := do.MustInvoke[*delivery.Dispatcher](i)

		health.RegisterRoutes(api, health.NewHandler(do.MustInvoke[health.Checker](i)))
		handlers.RegisterRoutes(api, handlers.Handlers{
			Track: handlers.NewTrackHandler(dispatcher, log),
			Lookup: handlers.NewLookupHandler(
				do.MustInvoke[*identity.Resolver](i),
				do.MustInvoke[*personalization.Reader](i),
				log,
			),
			Redirect: handlers.NewRedirectHandler(dispatcher, opts.ClickTimeout(), log),
		}, opts.OriginPolicy())

		return api, nil
	})
}

// ConsumerGroupPackage provides the *messaging.ConsumerGroup replaying
// dead-lettered batches into the warehouse.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (message.Subscriber, error) {
		opts := do.MustInvoke[*Options](i)

		subscriber, err := redisstream.NewSubscriber(
			redisstream.SubscriberConfig{
				Client:        do.MustInvoke[*redis.Client](i),
				Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
				ConsumerGroup: opts.ConsumerGroup,
			},
			messaging.NewZapLoggerAdapter(do.MustInvoke[*zap.Logger](i)),
		)
		if err != nil {
			return nil, fmt.Errorf("creating subscriber: %w", err)
		}

		return subscriber, nil
	})

	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		log := do.MustInvoke[*zap.Logger](i)
		subscriber := do.MustInvoke[message.Subscriber](i)

		if opts.DeadLetterTopic == "" {
			return nil, errors.New("dead-letter topic is required")
		}

		group := messaging.NewConsumerGroup(subscriber, log)
		group.Add("replay", messaging.NewConsumer(
			subscriber,
			opts.DeadLetterTopic,
			delivery.NewReplayHandler(do.MustInvoke[*delivery.Sink](i), opts.ReplayMaxAge()),
			log,
		))

		return group, nil
	})
}

// NewSpecAPI registers every route without dependencies, for rendering the
// OpenAPI document.
func NewSpecAPI(opts *Options) huma.API {
	api := humachi.New(chi.NewMux(), NewAPIConfig())

	health.RegisterRoutes(api, health.NewHandler(nil))
	handlers.RegisterRoutes(api, handlers.Handlers{
		Track:    &handlers.TrackHandler{},
		Lookup:   &handlers.LookupHandler{},
		Redirect: &handlers.RedirectHandler{},
	}, opts.OriginPolicy())

	return api
}
