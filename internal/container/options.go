package container

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/delivery"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/identity"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/logger"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/middleware"
)

// Key-value backends selectable with --kv-backend.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options is the service configuration. Every field is also read from a
// SERVICE_ prefixed environment variable.
type Options struct {
	Port        int    `default:"8888"       help:"Port to listen on"                   short:"p"`
	LogFormat   string `default:"json"       help:"Log format: json or console"`
	LogLevel    string `default:""           help:"Log level, empty for the format default"`
	Environment string `default:"production" help:"production or development; development accepts every origin"`

	AllowedOrigins string `default:"" help:"Comma separated origins allowed to send events"`

	RedisAddr   string `default:"localhost:6379"                        help:"Redis server address"             short:"r"`
	KVBackend   string `default:"redis"                                 help:"Lookup store: redis, postgres or memory"`
	PostgresURL string `default:"postgres://localhost:5432/tracking"   help:"PostgreSQL connection string"`
	KVCacheTTL  int    `default:"60"                                    help:"Seconds Redis caches PostgreSQL lookups, 0 disables"`

	IdentityPrefix        string `default:"identity:"        help:"Key prefix of identity records"`
	PersonalizationPrefix string `default:"personalization:" help:"Key prefix of personalization records"`
	IdentityLifetimeDays  int    `default:"90"               help:"Days an identity stays resolvable without its own expiry"`

	WarehouseProject         string `default:""       help:"Warehouse project id"`
	WarehouseDataset         string `default:""       help:"Warehouse dataset"`
	WarehouseTable           string `default:"events" help:"Warehouse table receiving events"`
	WarehouseEndpoint        string `default:""       help:"Warehouse API base URL, empty for the public endpoint"`
	WarehouseCredentials     string `default:""       help:"Service account JSON"`
	WarehouseCredentialsFile string `default:""       help:"Path to the service account JSON, used when the inline value is empty"`
	TokenCache               bool   `default:"false"  help:"Reuse access tokens until shortly before they expire"`

	DeliveryWorkers   int `default:"4"     help:"Background delivery workers"`
	DeliveryQueue     int `default:"256"   help:"Batches buffered before delivery runs inline"`
	DeliveryTimeoutMS int `default:"10000" help:"Milliseconds allowed per background delivery"`
	ClickTimeoutMS    int `default:"3000"  help:"Milliseconds a click delivery may delay its redirect"`

	DeadLetter       bool   `default:"false"            help:"Publish failed batches for replay"`
	DeadLetterTopic  string `default:"events.failed"    help:"Topic for failed batches"`
	ConsumerGroup    string `default:"warehouse-replay" help:"Consumer group replaying failed batches"`
	ReplayMaxAgeMins int    `default:"1440"             help:"Minutes after which a failed batch is no longer replayed"`

	RateLimit      bool   `default:"true"   help:"Rate limit clients"`
	RateLimitStore string `default:"memory" help:"Rate limit counters: memory or redis"`
	Metrics        bool   `default:"true"   help:"Serve Prometheus metrics on /metrics"`
}

// Validate rejects configurations the service cannot run with.
func (o *Options) Validate() error {
	var errs []error

	switch o.Environment {
	case middleware.EnvironmentProduction, middleware.EnvironmentDevelopment:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", o.Environment))
	}

	switch o.LogFormat {
	case logger.FormatJSON, logger.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", o.LogFormat))
	}

	switch o.KVBackend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown kv backend %q", o.KVBackend))
	}

	switch o.RateLimitStore {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit store %q", o.RateLimitStore))
	}

	if o.Port <= 0 || o.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", o.Port))
	}

	if o.DeliveryWorkers <= 0 {
		errs = append(errs, errors.New("delivery workers must be positive"))
	}

	if o.DeliveryQueue < 0 {
		errs = append(errs, errors.New("delivery queue cannot be negative"))
	}

	if o.WarehouseTable == "" {
		errs = append(errs, errors.New("warehouse table is required"))
	}

	if o.DeadLetter && o.DeadLetterTopic == "" {
		errs = append(errs, errors.New("dead-letter topic is required"))
	}

	return errors.Join(errs...)
}

// OriginPolicy builds the cross-origin policy.
func (o *Options) OriginPolicy() middleware.OriginPolicy {
	return middleware.NewOriginPolicy(
		middleware.ParseOrigins(o.AllowedOrigins),
		o.Environment == middleware.EnvironmentDevelopment,
	)
}

// IdentityLifetime returns the configured identity lifetime.
func (o *Options) IdentityLifetime() time.Duration {
	if o.IdentityLifetimeDays <= 0 {
		return identity.DefaultLifetime
	}

	return time.Duration(o.IdentityLifetimeDays) * 24 * time.Hour
}

// DispatcherConfig returns the background delivery settings.
func (o *Options) DispatcherConfig() delivery.DispatcherConfig {
	return delivery.DispatcherConfig{
		Workers:   o.DeliveryWorkers,
		QueueSize: o.DeliveryQueue,
		Timeout:   time.Duration(o.DeliveryTimeoutMS) * time.Millisecond,
	}
}

// ClickTimeout bounds the click delivery on /go.
func (o *Options) ClickTimeout() time.Duration {
	return time.Duration(o.ClickTimeoutMS) * time.Millisecond
}

// ReplayMaxAge is how long a failed batch stays eligible for replay.
func (o *Options) ReplayMaxAge() time.Duration {
	return time.Duration(o.ReplayMaxAgeMins) * time.Minute
}

// WarehouseSecret returns the service credential, read from the file when
// no inline value is set. The secret is never part of an error.
func (o *Options) WarehouseSecret() ([]byte, error) {
	if strings.TrimSpace(o.WarehouseCredentials) != "" {
		return []byte(o.WarehouseCredentials), nil
	}

	if o.WarehouseCredentialsFile == "" {
		return nil, nil
	}

	secret, err := os.ReadFile(o.WarehouseCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading warehouse credentials file: %w", err)
	}

	return secret, nil
}
