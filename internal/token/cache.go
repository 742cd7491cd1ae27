package token

import (
	"context"
	"sync"
	"time"
)

// refreshMargin keeps a cached token from expiring mid-insert.
const refreshMargin = time.Minute

// CachingSource reuses a token across calls until it is about to expire.
type CachingSource struct {
	source Source
	now    func() time.Time

	mu    sync.Mutex
	token *Token
}

// NewCachingSource wraps source with an in-process token cache.
func NewCachingSource(source Source) *CachingSource {
	return &CachingSource{source: source, now: time.Now}
}

// Token returns the cached token or fetches a new one. Failures are not cached.
func (c *CachingSource) Token(ctx context.Context) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid(c.now(), refreshMargin) {
		return c.token, nil
	}

	tok, err := c.source.Token(ctx)
	if err != nil {
		return nil, err
	}

	c.token = tok

	return tok, nil
}

// Invalidate drops the cached token, used after the warehouse rejects it.
func (c *CachingSource) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
