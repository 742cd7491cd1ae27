package middleware

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// RequireOrigin rejects requests whose Origin header the policy does not
// allow. It runs as an operation middleware, before the body is read.
func RequireOrigin(api huma.API, policy OriginPolicy) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if !policy.Allows(ctx.Header("Origin")) {
			_ = huma.WriteErr(api, ctx, http.StatusForbidden, "Forbidden")

			return
		}

		next(ctx)
	}
}
