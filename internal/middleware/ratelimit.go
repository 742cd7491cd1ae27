package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/ratelimit"
	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"
)

// clientKey identifies a caller by IP and User-Agent without storing either.
func clientKey(ctx huma.Context) string {
	hash := sha256.Sum256([]byte(clientIP(ctx) + "|" + ctx.Header("User-Agent")))

	return hex.EncodeToString(hash[:])
}

// RateLimit returns a huma middleware that counts each request against the
// scopes picked by resolver. Operations can carry a ratelimit.EndpointConfig
// under ratelimit.MetadataKey to opt out or to use their own rules.
//
// A broken rule answers 429 with Retry-After. A failing counter answers 500.
func RateLimit(
	api huma.API,
	limiter *ratelimit.Limiter,
	resolver ratelimit.ScopeResolver,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		cfg, _ := ratelimit.EndpointConfigOf(op)

		if cfg.Disabled {
			next(ctx)

			return
		}

		var (
			verdict *ratelimit.Verdict
			err     error
		)

		if len(cfg.Rules) > 0 {
			verdict, err = limiter.CheckRules(ctx.Context(), clientKey(ctx), op.Path, cfg.Rules)
		} else {
			verdict, err = limiter.Check(ctx.Context(), clientKey(ctx), resolver.Resolve(ctx))
		}

		if err != nil {
			logger.Error("rate limit check failed", zap.String("path", routeOf(op)), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		if verdict != nil {
			reject(api, ctx, verdict, logger)

			return
		}

		next(ctx)
	}
}

func reject(api huma.API, ctx huma.Context, verdict *ratelimit.Verdict, logger *zap.Logger) {
	scope := string(verdict.Scope)
	if scope == "" {
		scope = "route"
	}

	metrics.RateLimited.WithLabelValues(scope).Inc()

	logger.Warn("rate limit exceeded",
		zap.String("path", routeOf(ctx.Operation())),
		zap.String("method", ctx.Method()),
		zap.String("scope", scope),
		zap.Int64("count", verdict.Count),
		zap.Int64("max", verdict.Rule.Max),
		zap.Duration("window", verdict.Rule.Window),
	)

	ctx.SetHeader("Retry-After", strconv.Itoa(verdict.RetryAfter()))
	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded: "+verdict.String())
}

func routeOf(op *huma.Operation) string {
	if op == nil {
		return ""
	}

	return op.Path
}
