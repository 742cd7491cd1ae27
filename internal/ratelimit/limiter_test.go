package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/ratelimit"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenCounter struct{}

func (brokenCounter) Hit(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, errors.New("counter unavailable")
}

type keyRecorder struct {
	keys []string
}

func (k *keyRecorder) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	k.keys = append(k.keys, key)

	return 1, nil
}

func testPolicy() *ratelimit.Policy {
	return ratelimit.NewPolicy().
		Limit(ratelimit.ScopeGlobal, 10, time.Minute).
		Limit(ratelimit.ScopeIngest, 2, time.Minute)
}

func TestLimiter_Check(t *testing.T) {
	both := []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeIngest}

	t.Run("passes requests under every rule", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewMemoryCounter(), testPolicy())

		for range 2 {
			verdict, err := limiter.Check(context.Background(), "client", both)

			require.NoError(t, err)
			assert.Nil(t, verdict)
		}
	})

	t.Run("reports the broken rule and its scope", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewMemoryCounter(), testPolicy())

		for range 2 {
			_, _ = limiter.Check(context.Background(), "client", both)
		}

		verdict, err := limiter.Check(context.Background(), "client", both)

		require.NoError(t, err)
		require.NotNil(t, verdict)
		assert.Equal(t, ratelimit.ScopeIngest, verdict.Scope)
		assert.Equal(t, int64(3), verdict.Count)
		assert.Equal(t, int64(2), verdict.Rule.Max)
		assert.Equal(t, 60, verdict.RetryAfter())
		assert.Equal(t, "ingest scope, 3/2 requests in 1m0s", verdict.String())
	})

	t.Run("counts clients separately", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewMemoryCounter(), testPolicy())
		ingest := []ratelimit.Scope{ratelimit.ScopeIngest}

		for range 3 {
			_, _ = limiter.Check(context.Background(), "noisy", ingest)
		}

		verdict, err := limiter.Check(context.Background(), "quiet", ingest)

		require.NoError(t, err)
		assert.Nil(t, verdict)
	})

	t.Run("keys counters by client scope and window", func(t *testing.T) {
		counter := &keyRecorder{}
		limiter := ratelimit.NewLimiter(counter, testPolicy())

		_, err := limiter.Check(context.Background(), "abc", both)

		require.NoError(t, err)
		assert.Equal(t, []string{"abc:global:60000", "abc:ingest:60000"}, counter.keys)
	})

	t.Run("does not count scopes without rules", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(brokenCounter{}, testPolicy())

		verdict, err := limiter.Check(context.Background(), "client", []ratelimit.Scope{ratelimit.ScopeLookup})

		require.NoError(t, err)
		assert.Nil(t, verdict)
	})

	t.Run("returns counter errors", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(brokenCounter{}, testPolicy())

		_, err := limiter.Check(context.Background(), "client", []ratelimit.Scope{ratelimit.ScopeGlobal})

		require.ErrorContains(t, err, "counter unavailable")
	})
}

func TestLimiter_CheckRules(t *testing.T) {
	rules := []ratelimit.Rule{{Window: 30 * time.Second, Max: 1}}

	t.Run("ignores the policy", func(t *testing.T) {
		limiter := ratelimit.NewLimiter(store.NewMemoryCounter(), ratelimit.NewPolicy())

		first, err := limiter.CheckRules(context.Background(), "client", "/track", rules)
		require.NoError(t, err)
		assert.Nil(t, first)

		second, err := limiter.CheckRules(context.Background(), "client", "/track", rules)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Empty(t, second.Scope)
		assert.Equal(t, 30, second.RetryAfter())
		assert.Equal(t, "2/1 requests in 30s", second.String())
	})

	t.Run("keys counters by route", func(t *testing.T) {
		counter := &keyRecorder{}
		limiter := ratelimit.NewLimiter(counter, ratelimit.NewPolicy())

		_, err := limiter.CheckRules(context.Background(), "abc", "/go", rules)

		require.NoError(t, err)
		assert.Equal(t, []string{"abc:route:/go:30000"}, counter.keys)
	})
}

func TestDefaultPolicy(t *testing.T) {
	policy := ratelimit.DefaultPolicy()

	for _, scope := range []ratelimit.Scope{ratelimit.ScopeGlobal, ratelimit.ScopeIngest, ratelimit.ScopeLookup} {
		rules := policy.Rules(scope)
		require.NotEmpty(t, rules, "scope %s", scope)

		for _, rule := range rules {
			assert.Positive(t, rule.Max)
			assert.Positive(t, rule.Window)
		}
	}

	assert.Len(t, policy.Rules(ratelimit.ScopeIngest), 2, "ingest has a burst and a sustained rule")
}
