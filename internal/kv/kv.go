// Package kv defines the key-value lookups the edge reads identity and
// personalization records from.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a key holds no value.
var ErrNotFound = errors.New("key not found")

// Store reads JSON documents by key.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
}

// Writer stores JSON documents. A zero ttl keeps the value until overwritten.
type Writer interface {
	Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// ReadWriter is a store that can also be populated.
type ReadWriter interface {
	Store
	Writer
}

// Namespace scopes every key of an underlying store under a prefix, so one
// backend can hold several logical namespaces.
type Namespace struct {
	store  ReadWriter
	prefix string
}

// NewNamespace returns a view of store whose keys are prefixed with prefix.
func NewNamespace(store ReadWriter, prefix string) *Namespace {
	return &Namespace{store: store, prefix: prefix}
}

func (n *Namespace) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return n.store.Get(ctx, n.prefix+key)
}

func (n *Namespace) Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	return n.store.Put(ctx, n.prefix+key, value, ttl)
}

// Prefix returns the namespace prefix.
func (n *Namespace) Prefix() string {
	return n.prefix
}
