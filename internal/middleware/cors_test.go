package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

const allowedOrigin = "https://www.example.com"

func corsRouter(policy middleware.OriginPolicy) *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.CORS(policy))
	router.Get("/personalize", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"personalized":false}`))
	})
	router.Post("/track", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return router
}

func preflight(origin, method string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/track", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", method)
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	return req
}

func TestOriginPolicy_Allows(t *testing.T) {
	policy := middleware.NewOriginPolicy([]string{" https://www.example.com ", "https://app.example.com", ""}, false)

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "https://www.example.com", want: true},
		{origin: "https://app.example.com", want: true},
		{origin: " https://app.example.com ", want: true},
		{origin: "https://evil.example.com", want: false},
		{origin: "https://www.example.com.evil.test", want: false},
		{origin: "http://www.example.com", want: false},
		{origin: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Allows(tt.origin))
		})
	}

	t.Run("zero value allows nothing", func(t *testing.T) {
		var zero middleware.OriginPolicy

		assert.False(t, zero.Allows(allowedOrigin))
		assert.False(t, zero.Development())
	})

	t.Run("development allows every origin", func(t *testing.T) {
		dev := middleware.NewOriginPolicy(nil, true)

		assert.True(t, dev.Allows("http://localhost:5173"))
		assert.True(t, dev.Development())
	})

	t.Run("exposes the allow-list", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"https://www.example.com", "https://app.example.com"}, policy.Origins())
	})
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t,
		[]string{"https://a.example.com", "https://b.example.com"},
		middleware.ParseOrigins(" https://a.example.com, ,https://b.example.com,"),
	)
	assert.Empty(t, middleware.ParseOrigins(""))
}

func TestCORS_Preflight(t *testing.T) {
	policy := middleware.NewOriginPolicy([]string{allowedOrigin}, false)

	t.Run("echoes an allowed origin", func(t *testing.T) {
		w := httptest.NewRecorder()

		corsRouter(policy).ServeHTTP(w, preflight(allowedOrigin, http.MethodPost))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, allowedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("omits headers for other origins", func(t *testing.T) {
		w := httptest.NewRecorder()

		corsRouter(policy).ServeHTTP(w, preflight("https://evil.example.com", http.MethodPost))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("never answers with a wildcard in development", func(t *testing.T) {
		w := httptest.NewRecorder()

		corsRouter(middleware.NewOriginPolicy(nil, true)).ServeHTTP(w, preflight("http://localhost:3000", http.MethodPost))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_BareOptions(t *testing.T) {
	policy := middleware.NewOriginPolicy([]string{allowedOrigin}, false)

	t.Run("answers 204 with headers for an allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/anything", nil)
		req.Header.Set("Origin", allowedOrigin)

		w := httptest.NewRecorder()

		corsRouter(policy).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, allowedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("answers 204 without headers otherwise", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/track", nil)

		w := httptest.NewRecorder()

		corsRouter(policy).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORS_ActualRequest(t *testing.T) {
	policy := middleware.NewOriginPolicy([]string{allowedOrigin}, false)

	t.Run("decorates responses to allowed origins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/personalize", nil)
		req.Header.Set("Origin", allowedOrigin)

		w := httptest.NewRecorder()

		corsRouter(policy).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, allowedOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("passes other origins through undecorated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/personalize", nil)
		req.Header.Set("Origin", "https://evil.example.com")

		w := httptest.NewRecorder()

		corsRouter(policy).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
