package middleware

import (
	"net"
	"strings"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/tracking"
	"github.com/danielgtaylor/huma/v2"
)

// Edge headers set by the CDN in front of the service.
const (
	HeaderConnectingIP = "CF-Connecting-IP"
	HeaderCountry      = "CF-IPCountry"
	HeaderCity         = "CF-IPCity"
	HeaderRegion       = "CF-Region"
	HeaderTimezone     = "CF-Timezone"
	HeaderRay          = "CF-Ray"
)

// headerSource is the part of huma.Context the extraction needs.
type headerSource interface {
	Header(name string) string
	RemoteAddr() string
}

// RequestMeta is a middleware that stores what the edge knows about the
// caller in the request context for the enricher.
func RequestMeta(_ huma.API) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		meta := ExtractRequestMeta(ctx)

		newCtx := tracking.ContextWithRequestMeta(ctx.Context(), meta)
		ctx = huma.WithContext(ctx, newCtx)

		next(ctx)
	}
}

// ExtractRequestMeta reads client attributes from request headers.
func ExtractRequestMeta(src headerSource) tracking.RequestMeta {
	return tracking.RequestMeta{
		ClientIP:  clientIP(src),
		UserAgent: src.Header("User-Agent"),
		Referrer:  src.Header("Referer"),
		Origin:    src.Header("Origin"),
		Country:   src.Header(HeaderCountry),
		City:      src.Header(HeaderCity),
		Region:    src.Header(HeaderRegion),
		Timezone:  src.Header(HeaderTimezone),
		Colo:      coloFromRay(src.Header(HeaderRay)),
	}
}

// clientIP prefers the CDN's view of the caller, then proxy headers, then
// the socket peer.
func clientIP(src headerSource) string {
	if ip := strings.TrimSpace(src.Header(HeaderConnectingIP)); ip != "" {
		return ip
	}

	if xff := src.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")

		return strings.TrimSpace(first)
	}

	if xri := strings.TrimSpace(src.Header("X-Real-IP")); xri != "" {
		return xri
	}

	addr := src.RemoteAddr()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}

// coloFromRay returns the data center code suffix of a ray id such as
// "8a1b2c3d4e5f6789-SJC".
func coloFromRay(ray string) string {
	idx := strings.LastIndex(ray, "-")
	if idx == -1 || idx == len(ray)-1 {
		return ""
	}

	return ray[idx+1:]
}
