// Package ratelimit counts requests per client against scoped rules.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Counter records a hit under key and returns the hits seen within the
// trailing window, the new one included.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Verdict describes a broken rule.
type Verdict struct {
	// Scope is empty for endpoint rules.
	Scope Scope
	Rule  Rule
	Count int64
}

// RetryAfter is the whole number of seconds after which the window has
// fully rolled over.
func (v *Verdict) RetryAfter() int {
	return int(math.Ceil(v.Rule.Window.Seconds()))
}

func (v *Verdict) String() string {
	if v.Scope == "" {
		return fmt.Sprintf("%d/%d requests in %s", v.Count, v.Rule.Max, v.Rule.Window)
	}

	return fmt.Sprintf("%s scope, %d/%d requests in %s", v.Scope, v.Count, v.Rule.Max, v.Rule.Window)
}

// Limiter applies a Policy through a Counter.
type Limiter struct {
	counter Counter
	policy  *Policy
}

// NewLimiter creates a limiter.
func NewLimiter(counter Counter, policy *Policy) *Limiter {
	return &Limiter{counter: counter, policy: policy}
}

// Check counts one request by client against every rule of scopes. It
// returns the first broken rule, or nil when the request may proceed.
func (l *Limiter) Check(ctx context.Context, client string, scopes []Scope) (*Verdict, error) {
	for _, scope := range scopes {
		verdict, err := l.apply(ctx, client+":"+string(scope), l.policy.Rules(scope))
		if err != nil {
			return nil, err
		}

		if verdict != nil {
			verdict.Scope = scope

			return verdict, nil
		}
	}

	return nil, nil
}

// CheckRules counts one request by client against rules that belong to a
// single route, bypassing the policy.
func (l *Limiter) CheckRules(ctx context.Context, client, route string, rules []Rule) (*Verdict, error) {
	return l.apply(ctx, client+":route:"+route, rules)
}

func (l *Limiter) apply(ctx context.Context, prefix string, rules []Rule) (*Verdict, error) {
	for _, rule := range rules {
		key := fmt.Sprintf("%s:%d", prefix, rule.Window.Milliseconds())

		count, err := l.counter.Hit(ctx, key, rule.Window)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", prefix, err)
		}

		if count > rule.Max {
			return &Verdict{Rule: rule, Count: count}, nil
		}
	}

	return nil, nil
}
