package ratelimit

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// Scope groups requests that share rules.
type Scope string

const (
	// ScopeGlobal applies to every limited request.
	ScopeGlobal Scope = "global"
	// ScopeLookup applies to identity and personalization reads.
	ScopeLookup Scope = "lookup"
	// ScopeIngest applies to requests that produce warehouse rows.
	ScopeIngest Scope = "ingest"
)

// MetadataKey holds an EndpointConfig in huma.Operation.Metadata.
const MetadataKey = "rateLimit"

// EndpointConfig tunes limiting for one operation.
type EndpointConfig struct {
	// Scope replaces method detection. A click on /go is a GET that writes
	// a row, so it declares ScopeIngest.
	Scope Scope
	// Rules replace the policy for this operation. Scope is ignored when set.
	Rules []Rule
	// Disabled skips limiting.
	Disabled bool
}

// ScopeResolver picks the scopes a request is counted under.
type ScopeResolver interface {
	Resolve(ctx huma.Context) []Scope
}

// ResolverFunc adapts a function to ScopeResolver.
type ResolverFunc func(ctx huma.Context) []Scope

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx huma.Context) []Scope {
	return f(ctx)
}

// ByMethod counts safe methods as lookups and everything else as ingest.
var ByMethod ResolverFunc = func(ctx huma.Context) []Scope {
	switch ctx.Method() {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return []Scope{ScopeGlobal, ScopeLookup}
	default:
		return []Scope{ScopeGlobal, ScopeIngest}
	}
}

// ByOperation uses the scope declared in operation metadata and falls back
// to ByMethod.
var ByOperation ResolverFunc = func(ctx huma.Context) []Scope {
	if cfg, ok := EndpointConfigOf(ctx.Operation()); ok && cfg.Scope != "" {
		return []Scope{ScopeGlobal, cfg.Scope}
	}

	return ByMethod(ctx)
}

// EndpointConfigOf returns the EndpointConfig attached to op.
func EndpointConfigOf(op *huma.Operation) (EndpointConfig, bool) {
	if op == nil || op.Metadata == nil {
		return EndpointConfig{}, false
	}

	cfg, ok := op.Metadata[MetadataKey].(EndpointConfig)

	return cfg, ok
}
