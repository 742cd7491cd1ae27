package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/kv"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Put(t *testing.T) {
	t.Run("stores value successfully", func(t *testing.T) {
		s := store.NewMemoryStore()

		err := s.Put(context.Background(), "abc123", json.RawMessage(`{"email":"a@example.com"}`), 0)

		require.NoError(t, err)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("overwrites existing value", func(t *testing.T) {
		s := store.NewMemoryStore()
		_ = s.Put(context.Background(), "abc123", json.RawMessage(`{"v":1}`), 0)

		err := s.Put(context.Background(), "abc123", json.RawMessage(`{"v":2}`), 0)
		require.NoError(t, err)

		value, _ := s.Get(context.Background(), "abc123")
		assert.JSONEq(t, `{"v":2}`, string(value))
	})

	t.Run("copies the value", func(t *testing.T) {
		s := store.NewMemoryStore()
		value := json.RawMessage(`{"v":1}`)
		_ = s.Put(context.Background(), "abc123", value, 0)

		value[5] = '9'

		got, _ := s.Get(context.Background(), "abc123")
		assert.JSONEq(t, `{"v":1}`, string(got))
	})
}

func TestMemoryStore_Get(t *testing.T) {
	t.Run("returns value when found", func(t *testing.T) {
		s := store.NewMemoryStore()
		_ = s.Put(context.Background(), "abc123", json.RawMessage(`{"company":"Acme"}`), 0)

		value, err := s.Get(context.Background(), "abc123")

		require.NoError(t, err)
		assert.JSONEq(t, `{"company":"Acme"}`, string(value))
	})

	t.Run("returns ErrNotFound when key does not exist", func(t *testing.T) {
		s := store.NewMemoryStore()

		value, err := s.Get(context.Background(), "notfound")

		assert.Nil(t, value)
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("returns ErrNotFound once the ttl has passed", func(t *testing.T) {
		s := store.NewMemoryStore()
		_ = s.Put(context.Background(), "short", json.RawMessage(`{}`), 20*time.Millisecond)

		time.Sleep(30 * time.Millisecond)

		_, err := s.Get(context.Background(), "short")

		assert.ErrorIs(t, err, kv.ErrNotFound)
		assert.Zero(t, s.Len())
	})
}

func TestNamespace(t *testing.T) {
	s := store.NewMemoryStore()
	identities := kv.NewNamespace(s, "identity:")
	profiles := kv.NewNamespace(s, "personalization:")

	require.NoError(t, identities.Put(context.Background(), "abc", json.RawMessage(`{"kind":"identity"}`), 0))
	require.NoError(t, profiles.Put(context.Background(), "abc", json.RawMessage(`{"kind":"profile"}`), 0))

	got, err := identities.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"identity"}`, string(got))

	raw, err := s.Get(context.Background(), "personalization:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"profile"}`, string(raw))
	assert.Equal(t, "identity:", identities.Prefix())
}
