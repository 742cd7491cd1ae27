// Package warehousetest provides an in-process stand-in for the streaming
// insert API and the token endpoint.
package warehousetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/token"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/warehouse"
)

// AccessToken is the bearer token the fake server accepts.
const AccessToken = "test-access-token"

// Server records inserted rows per table and answers duplicate insert ids
// with a per-row error, so resends never produce duplicate rows.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	rows    map[string][]warehouse.Row
	seen    map[string]struct{}
	calls   int
	status  int
	rowFail map[string]string
}

// NewServer starts a fake warehouse.
func NewServer() *Server {
	s := &Server{
		rows:    make(map[string][]warehouse.Row),
		seen:    make(map[string]struct{}),
		rowFail: make(map[string]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))

	return s
}

// FailWith makes every following call fail with status. Zero restores success.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// RejectRow makes the row with insertID fail with reason.
func (s *Server) RejectRow(insertID, reason string) {
	s.mu.Lock()
	s.rowFail[insertID] = reason
	s.mu.Unlock()
}

// Rows returns the rows stored for table.
func (s *Server) Rows(table string) []warehouse.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]warehouse.Row(nil), s.rows[table]...)
}

// Calls returns the number of insert calls received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	if r.Header.Get("Authorization") != "Bearer "+AccessToken {
		http.Error(w, `{"error":{"code":401,"message":"Request had invalid authentication credentials."}}`, http.StatusUnauthorized)

		return
	}

	if s.status != 0 {
		http.Error(w, `{"error":{"message":"backend error"}}`, s.status)

		return
	}

	if !strings.HasSuffix(r.URL.Path, "/insertAll") {
		http.NotFound(w, r)

		return
	}

	parts := strings.Split(strings.TrimSuffix(r.URL.Path, "/insertAll"), "/")
	table := parts[len(parts)-1]

	var req struct {
		Rows []warehouse.Row `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid body"}}`, http.StatusBadRequest)

		return
	}

	var result warehouse.InsertResult

	for i, row := range req.Rows {
		if reason, ok := s.rowFail[row.InsertID]; ok {
			result.RowErrors = append(result.RowErrors, warehouse.RowError{
				Index:  i,
				Errors: []warehouse.ErrorDetail{{Reason: reason, Message: "row rejected"}},
			})

			continue
		}

		if _, dup := s.seen[row.InsertID]; dup {
			result.RowErrors = append(result.RowErrors, warehouse.RowError{
				Index:  i,
				Errors: []warehouse.ErrorDetail{{Reason: "duplicate", Message: "insertId already stored"}},
			})

			continue
		}

		s.seen[row.InsertID] = struct{}{}
		s.rows[table] = append(s.rows[table], row)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// StaticSource hands out AccessToken without an exchange.
type StaticSource struct {
	Err error
}

// Token implements token.Source.
func (s StaticSource) Token(_ context.Context) (*token.Token, error) {
	if s.Err != nil {
		return nil, s.Err
	}

	return &token.Token{AccessToken: AccessToken, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// NewClient returns a warehouse client pointed at the fake server.
func (s *Server) NewClient(project, dataset string) *warehouse.Client {
	return warehouse.NewClient(s.Client(), StaticSource{}, s.URL, project, dataset)
}
