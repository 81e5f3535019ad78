package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/config"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/storage/memory"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewBoard(4)), http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ready := NewServer(memory.NewBoard(4), config.ServerConfig{}, zap.NewNop(),
		func(context.Context) error { return nil })
	rec := serve(t, ready, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(memory.NewBoard(4), config.ServerConfig{}, zap.NewNop(),
		func(context.Context) error { return errors.New("ledger down") })
	rec = serve(t, down, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "ledger down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewBoard(4)), http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_ListItems(t *testing.T) {
	t.Parallel()

	board := memory.NewBoard(8)
	record(t, board, item.Outcome{ID: "1", Identifier: "album:1", State: item.StateReleased})
	record(t, board, item.Outcome{ID: "2", Identifier: "photo:2", State: item.StateFailed, FailedStage: "fetch"})
	record(t, board, item.Outcome{ID: "3", Identifier: "story:3", State: item.StateReleased})

	rec := serve(t, newTestServer(board), http.MethodGet, "/v1/items?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, "story:3", resp.Items[0].Identifier)
	require.Equal(t, "photo:2", resp.Items[1].Identifier)
	require.Equal(t, 2, resp.Totals[item.StateReleased])
	require.Equal(t, 1, resp.Totals[item.StateFailed])
}

func TestServer_ListItems_BadLimit(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewBoard(4)), http.MethodGet, "/v1/items?limit=abc", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetItem(t *testing.T) {
	t.Parallel()

	board := memory.NewBoard(4)
	record(t, board, item.Outcome{
		ID:         "w1",
		Identifier: "wiki:en:Paris",
		State:      item.StateReleased,
		Domains:    []string{"fotopedia.com"},
		Bytes:      512,
	})
	server := newTestServer(board)

	rec := serve(t, server, http.MethodGet, "/v1/items/wiki:en:Paris", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out item.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "w1", out.ID)
	require.Equal(t, int64(512), out.Bytes)

	rec = serve(t, server, http.MethodGet, "/v1/items/album:missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetItem_BoardError(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(failingBoard{}), http.MethodGet, "/v1/items/user:bob", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewBoard(4), config.ServerConfig{APIKey: "secret"}, zap.NewNop())

	rec := serve(t, server, http.MethodGet, "/v1/items", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, server, http.MethodGet, "/v1/items", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodGet, "/v1/items?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(memory.NewBoard(4)), http.MethodGet, "/healthz", nil)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- helpers/fakes ---

func newTestServer(board Board) *Server {
	return NewServer(board, config.ServerConfig{}, zap.NewNop())
}

func serve(t *testing.T, s *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func record(t *testing.T, board *memory.Board, out item.Outcome) {
	t.Helper()
	out.FinishedAt = time.Unix(100, 0).UTC()
	require.NoError(t, board.Record(context.Background(), out))
}

type failingBoard struct{}

func (failingBoard) Get(context.Context, string) (item.Outcome, error) {
	return item.Outcome{}, errors.New("board offline")
}

func (failingBoard) Recent(int) []item.Outcome { return nil }

func (failingBoard) Totals() map[item.State]int { return nil }
