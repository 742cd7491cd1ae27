package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/handlers"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/identity"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/middleware"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/personalization"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/store"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/tracking"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const allowedOrigin = "https://www.example.com"

type fakeDispatcher struct {
	mu      sync.Mutex
	batches [][]tracking.EnrichedEvent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, events []tracking.EnrichedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, events)
}

func (f *fakeDispatcher) events() []tracking.EnrichedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []tracking.EnrichedEvent
	for _, batch := range f.batches {
		all = append(all, batch...)
	}

	return all
}

type fakeClicks struct {
	mu     sync.Mutex
	clicks []tracking.EnrichedEvent
	err    error
}

func (f *fakeClicks) Deliver(ctx context.Context, events []tracking.EnrichedEvent) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("click delivery without a deadline")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.clicks = append(f.clicks, events...)

	return f.err
}

func (f *fakeClicks) recorded() []tracking.EnrichedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]tracking.EnrichedEvent(nil), f.clicks...)
}

type fixture struct {
	api             humatest.TestAPI
	dispatcher      *fakeDispatcher
	clicks          *fakeClicks
	identities      *store.MemoryStore
	personalization *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	_, api := humatest.New(t)
	api.UseMiddleware(middleware.RequestMeta(api))

	f := &fixture{
		api:             api,
		dispatcher:      &fakeDispatcher{},
		clicks:          &fakeClicks{},
		identities:      store.NewMemoryStore(),
		personalization: store.NewMemoryStore(),
	}

	logger := zap.NewNop()

	handlers.RegisterRoutes(api, handlers.Handlers{
		Track: handlers.NewTrackHandler(f.dispatcher, logger),
		Lookup: handlers.NewLookupHandler(
			identity.NewResolver(f.identities, logger),
			personalization.NewReader(f.personalization, logger),
			logger,
		),
		Redirect: handlers.NewRedirectHandler(f.clicks, 0, logger),
	}, middleware.NewOriginPolicy([]string{allowedOrigin}, false))

	return f
}

func (f *fixture) putIdentity(t *testing.T, id, profile string) {
	t.Helper()

	require.NoError(t, f.identities.Put(context.Background(), id, json.RawMessage(profile), 0))
}

func (f *fixture) putPersonalization(t *testing.T, id, record string) {
	t.Helper()

	require.NoError(t, f.personalization.Put(context.Background(), id, json.RawMessage(record), 0))
}
