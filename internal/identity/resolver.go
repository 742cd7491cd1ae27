// Package identity resolves short tracking ids to lead profiles.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"go.uber.org/zap"
)

// DefaultLifetime is how long an identity record stays resolvable when it
// does not carry its own expiry.
const DefaultLifetime = 90 * 24 * time.Hour

var (
	// ErrNotFound is returned for unknown and expired identities.
	ErrNotFound = errors.New("identity not found")
	// ErrCorrupt is returned when a stored record is not a JSON object.
	ErrCorrupt = errors.New("identity record is not valid JSON")
)

// lifecycle holds the only fields the resolver interprets. The rest of the
// profile is returned as stored.
type lifecycle struct {
	CreatedAt json.RawMessage `json:"createdAt"`
	ExpiresAt json.RawMessage `json:"expiresAt"`
}

// Resolver looks identities up in a key-value store.
type Resolver struct {
	store    kv.Store
	lifetime time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLifetime overrides DefaultLifetime.
func WithLifetime(lifetime time.Duration) Option {
	return func(r *Resolver) {
		if lifetime > 0 {
			r.lifetime = lifetime
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver reading from store.
func NewResolver(store kv.Store, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		lifetime: DefaultLifetime,
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns the stored profile for id verbatim.
func (r *Resolver) Resolve(ctx context.Context, id string) (json.RawMessage, error) {
	profile, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			metrics.Lookups.WithLabelValues("identity", "miss").Inc()

			return nil, ErrNotFound
		}

		metrics.Lookups.WithLabelValues("identity", "error").Inc()

		return nil, fmt.Errorf("looking up identity: %w", err)
	}

	if string(bytes.TrimSpace(profile)) == "null" {
		metrics.Lookups.WithLabelValues("identity", "miss").Inc()

		return nil, ErrNotFound
	}

	var lc lifecycle
	if err := json.Unmarshal(profile, &lc); err != nil {
		metrics.Lookups.WithLabelValues("identity", "error").Inc()
		r.logger.Error("stored identity is not a JSON object", zap.String("identityId", id))

		return nil, ErrCorrupt
	}

	if r.expired(lc) {
		metrics.Lookups.WithLabelValues("identity", "expired").Inc()

		return nil, ErrNotFound
	}

	metrics.Lookups.WithLabelValues("identity", "hit").Inc()

	return profile, nil
}

func (r *Resolver) expired(lc lifecycle) bool {
	now := r.now()

	if expiresAt, ok := parseInstant(lc.ExpiresAt); ok {
		return !now.Before(expiresAt)
	}

	if createdAt, ok := parseInstant(lc.CreatedAt); ok {
		return !now.Before(createdAt.Add(r.lifetime))
	}

	return false
}

// parseInstant accepts epoch milliseconds or an RFC 3339 string, the two
// forms the loaders write.
func parseInstant(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}

	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err == nil {
		if v, err := ms.Int64(); err == nil {
			return time.UnixMilli(v), true
		}

		if f, err := ms.Float64(); err == nil {
			return time.UnixMilli(int64(f)), true
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
