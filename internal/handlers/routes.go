package handlers

import (
	"net/http"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/middleware"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/ratelimit"
	"github.com/danielgtaylor/huma/v2"
)

// Handlers groups the operation handlers registered by RegisterRoutes.
type Handlers struct {
	Track    *TrackHandler
	Lookup   *LookupHandler
	Redirect *RedirectHandler
}

// RegisterRoutes registers the tracking routes with per-endpoint rate limit configuration.
func RegisterRoutes(api huma.API, h Handlers, origins middleware.OriginPolicy) {
	huma.Register(api, huma.Operation{
		OperationID: "track",
		Method:      http.MethodPost,
		Path:        "/track",
		Summary:     "Record events",
		Description: "Accepts a batch of tracker events from an allowed origin and delivers it to the warehouse in the background.",
		Tags:        []string{"Tracking"},
		Middlewares: huma.Middlewares{middleware.RequireOrigin(api, origins)},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeIngest},
		},
	}, h.Track.Track)

	huma.Register(api, huma.Operation{
		OperationID: "identify",
		Method:      http.MethodGet,
		Path:        "/identify",
		Summary:     "Resolve identity",
		Description: "Returns the lead profile stored for a short tracking id.",
		Tags:        []string{"Lookups"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeLookup},
		},
	}, h.Lookup.Identify)

	huma.Register(api, huma.Operation{
		OperationID: "personalize",
		Method:      http.MethodGet,
		Path:        "/personalize",
		Summary:     "Read personalization",
		Description: "Returns the personalization document for a visitor, or personalized=false.",
		Tags:        []string{"Lookups"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeLookup},
		},
	}, h.Lookup.Personalize)

	// A click is a GET that writes a row.
	huma.Register(api, huma.Operation{
		OperationID:   "go",
		Method:        http.MethodGet,
		Path:          "/go",
		Summary:       "Follow tracked link",
		Description:   "Records an email click for the identity and redirects to the destination.",
		Tags:          []string{"Tracking"},
		DefaultStatus: http.StatusFound,
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeIngest},
		},
	}, h.Redirect.Go)
}
