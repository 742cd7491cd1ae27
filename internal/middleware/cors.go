package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/cors"
)

// Environments recognised by OriginPolicy.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// The fixed cross-origin contract the tracker relies on.
var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsHeaders = []string{"Content-Type"}
)

const corsMaxAge = 86400

// OriginPolicy decides which browser origins may call the service. The zero
// value allows nothing. It is immutable once built.
type OriginPolicy struct {
	allowed     map[string]struct{}
	development bool
}

// NewOriginPolicy builds a policy from an allow-list compared by exact match
// after trimming. development accepts every origin and must only be set for
// the development environment.
func NewOriginPolicy(origins []string, development bool) OriginPolicy {
	allowed := make(map[string]struct{}, len(origins))

	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return OriginPolicy{allowed: allowed, development: development}
}

// ParseOrigins splits a comma separated allow-list.
func ParseOrigins(list string) []string {
	var origins []string

	for _, origin := range strings.Split(list, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return origins
}

// Allows reports whether origin may call the service.
func (p OriginPolicy) Allows(origin string) bool {
	if p.development {
		return true
	}

	_, ok := p.allowed[strings.TrimSpace(origin)]

	return ok
}

// Development reports whether every origin is accepted.
func (p OriginPolicy) Development() bool {
	return p.development
}

// Origins returns the allow-list in no particular order.
func (p OriginPolicy) Origins() []string {
	origins := make([]string, 0, len(p.allowed))
	for origin := range p.allowed {
		origins = append(origins, origin)
	}

	return origins
}

// CORS answers preflights and decorates responses for allowed origins. The
// allowed origin is echoed back, never a wildcard. Preflights from other
// origins still get 204, without CORS headers.
func CORS(policy OriginPolicy) func(http.Handler) http.Handler {
	preflight := cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return policy.Allows(origin)
		},
		AllowedMethods:       corsMethods,
		AllowedHeaders:       corsHeaders,
		MaxAge:               corsMaxAge,
		OptionsSuccessStatus: http.StatusNoContent,
	})

	return func(next http.Handler) http.Handler {
		return preflight(bareOptions(policy, next))
	}
}

// bareOptions answers OPTIONS requests that are not preflights, which would
// otherwise reach the router as an unsupported method.
func bareOptions(policy OriginPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)

			return
		}

		if origin := r.Header.Get("Origin"); origin != "" && policy.Allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
			h.Set("Access-Control-Allow-Headers", strings.Join(corsHeaders, ", "))
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
			h.Add("Vary", "Origin")
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
