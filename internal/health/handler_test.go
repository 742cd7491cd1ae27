package health_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/health"
	"github.com/alicebob/miniredis/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	err error
}

func (m *mockChecker) Ping(_ context.Context) error {
	return m.err
}

func TestHandler_Live(t *testing.T) {
	handler := health.NewHandler(&mockChecker{err: errors.New("down")})
	before := time.Now().UnixMilli()

	resp, err := handler.Live(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body.Status, "liveness ignores dependencies")
	assert.GreaterOrEqual(t, resp.Body.Timestamp, before)
	assert.LessOrEqual(t, resp.Body.Timestamp, time.Now().UnixMilli())
}

func TestHandler_Ready(t *testing.T) {
	t.Run("returns ok when the store is healthy", func(t *testing.T) {
		handler := health.NewHandler(&mockChecker{})

		resp, err := handler.Ready(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Body.Status)
		assert.Equal(t, "healthy", resp.Body.KV)
	})

	t.Run("returns degraded when the store is unhealthy", func(t *testing.T) {
		handler := health.NewHandler(&mockChecker{err: errors.New("connection refused")})

		resp, err := handler.Ready(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, "degraded", resp.Body.Status)
		assert.Equal(t, "unhealthy", resp.Body.KV)
	})

	t.Run("reports no store when none is configured", func(t *testing.T) {
		handler := health.NewHandler(nil)

		resp, err := handler.Ready(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Body.Status)
		assert.Equal(t, "none", resp.Body.KV)
	})
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() { _ = client.Close() })

	checker := health.NewRedisChecker(client)

	t.Run("ping succeeds while redis is up", func(t *testing.T) {
		assert.NoError(t, checker.Ping(context.Background()))
	})

	t.Run("ping fails once redis is gone", func(t *testing.T) {
		mr.Close()

		assert.Error(t, checker.Ping(context.Background()))
	})
}

func TestRegisterRoutes(t *testing.T) {
	_, api := humatest.New(t)
	health.RegisterRoutes(api, health.NewHandler(&mockChecker{}))

	t.Run("serves liveness", func(t *testing.T) {
		resp := api.Get("/health")

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"status":"ok"`)
		assert.Contains(t, resp.Body.String(), `"timestamp":`)
	})

	t.Run("serves readiness", func(t *testing.T) {
		resp := api.Get("/ready")

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Contains(t, resp.Body.String(), `"kv":"healthy"`)
	})
}
