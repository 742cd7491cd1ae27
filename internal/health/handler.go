package health

import (
	"context"
	"net/http"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/ratelimit"
	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"
)

// Checker defines the interface for checking a dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// RedisChecker adapts redis.Client to Checker interface.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Ping checks Redis connectivity.
func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Handler serves liveness and readiness checks.
type Handler struct {
	kv  Checker
	now func() time.Time
}

// NewHandler creates a new health handler. A nil checker reports no KV
// dependency.
func NewHandler(kv Checker) *Handler {
	return &Handler{kv: kv, now: time.Now}
}

// LiveResponse is the response for the liveness endpoint.
type LiveResponse struct {
	Body struct {
		Status    string `doc:"Always ok"                 example:"ok"            json:"status"`
		Timestamp int64  `doc:"Server time in epoch ms" example:"1767225600000" json:"timestamp"`
	}
}

// ReadyResponse is the response for the readiness endpoint.
type ReadyResponse struct {
	Body struct {
		Status string `doc:"ok or degraded"        example:"ok"      json:"status"`
		KV     string `doc:"Key-value store state" example:"healthy" json:"kv"`
	}
}

// Live reports that the process is serving.
func (h *Handler) Live(_ context.Context, _ *struct{}) (*LiveResponse, error) {
	resp := &LiveResponse{}
	resp.Body.Status = "ok"
	resp.Body.Timestamp = h.now().UnixMilli()

	return resp, nil
}

// Ready reports whether the key-value store answers. A failing store
// degrades the status without failing the request.
func (h *Handler) Ready(ctx context.Context, _ *struct{}) (*ReadyResponse, error) {
	resp := &ReadyResponse{}
	resp.Body.Status = "ok"

	switch {
	case h.kv == nil:
		resp.Body.KV = "none"
	case h.kv.Ping(ctx) != nil:
		resp.Body.KV = "unhealthy"
		resp.Body.Status = "degraded"
	default:
		resp.Body.KV = "healthy"
	}

	return resp, nil
}

// RegisterRoutes registers health check routes. They are never rate limited.
func RegisterRoutes(api huma.API, h *Handler) {
	unlimited := map[string]any{
		ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
	}

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
		Tags:        []string{"Health"},
		Metadata:    unlimited,
	}, h.Live)

	huma.Register(api, huma.Operation{
		OperationID: "ready",
		Method:      http.MethodGet,
		Path:        "/ready",
		Summary:     "Readiness check",
		Tags:        []string{"Health"},
		Metadata:    unlimited,
	}, h.Ready)
}
