package ratelimit

import "time"

// Rule allows at most Max hits per trailing Window.
type Rule struct {
	Window time.Duration
	Max    int64
}

// Policy maps scopes to their rules. Every rule of every scope that applies
// to a request must hold for the request to pass.
type Policy struct {
	rules map[Scope][]Rule
}

// NewPolicy returns an empty policy. Scopes without rules are unlimited.
func NewPolicy() *Policy {
	return &Policy{rules: make(map[Scope][]Rule)}
}

// DefaultPolicy is sized for a tracker that flushes every few seconds and
// for lookups made once per page view.
func DefaultPolicy() *Policy {
	return NewPolicy().
		Limit(ScopeGlobal, 600, time.Minute).
		Limit(ScopeIngest, 50, 10*time.Second).
		Limit(ScopeIngest, 240, time.Minute).
		Limit(ScopeLookup, 300, time.Minute)
}

// Limit adds a rule of max hits per window to scope.
func (p *Policy) Limit(scope Scope, maxHits int64, window time.Duration) *Policy {
	p.rules[scope] = append(p.rules[scope], Rule{Window: window, Max: maxHits})

	return p
}

// Rules returns the rules of scope.
func (p *Policy) Rules(scope Scope) []Rule {
	return p.rules[scope]
}
