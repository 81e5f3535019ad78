package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/queue"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		URL:        srv.URL + "/fotopedia/",
		Downloader: "alice",
		Version:    "20140807.02",
		Backoff:    time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func decode(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

var _ queue.Source = (*Client)(nil)

// TestClaimSendsV2Request ensures claims carry downloader, api version and pipeline version.
func TestClaimSendsV2Request(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fotopedia/request", r.URL.Path)
		body := decode(t, r)
		assert.Equal(t, "alice", body["downloader"])
		assert.Equal(t, "2", body["api_version"])
		assert.Equal(t, "20140807.02", body["version"])
		_, _ = io.WriteString(w, `{"item_name":"album:123"}`)
	}))

	id, err := c.Claim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "album:123", id)
}

func TestClaimPlainText(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "wiki:en:Paris\n")
	}))
	id, err := c.Claim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wiki:en:Paris", id)
}

func TestClaimEmptyAndLimited(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		status int
		body   string
		want   error
	}{
		"not found":    {status: http.StatusNotFound, want: ErrNoItems},
		"empty body":   {status: http.StatusOK, body: "  ", want: ErrNoItems},
		"calm down":    {status: StatusRateLimited, want: ErrRateLimited},
		"too many":     {status: http.StatusTooManyRequests, want: ErrRateLimited},
		"server error": {status: http.StatusBadGateway, want: ErrTrackerUnreachable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			_, err := c.Claim(context.Background())
			require.ErrorIs(t, err, tc.want)
			if !errors.Is(tc.want, ErrTrackerUnreachable) {
				require.ErrorIs(t, err, queue.ErrEmpty)
			}
		})
	}
}

func TestClaimUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(Config{URL: url, Downloader: "alice"}, nil)
	require.NoError(t, err)
	_, err = c.Claim(context.Background())
	require.ErrorIs(t, err, ErrTrackerUnreachable)
}

func TestClaimPacing(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "story:1")
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, Downloader: "a", ClaimInterval: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		_, err := c.Claim(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUploadTarget(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fotopedia/upload", r.URL.Path)
		body := decode(t, r)
		assert.Equal(t, "alice", body["downloader"])
		_, _ = io.WriteString(w, "rsync://upload.example/fotopedia/alice/\n")
	}))
	target, err := c.UploadTarget(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rsync://upload.example/fotopedia/alice/", target)

	bad := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	_, err = bad.UploadTarget(context.Background())
	require.ErrorIs(t, err, ErrTrackerUnreachable)
}

func TestReportSendsStats(t *testing.T) {
	t.Parallel()

	var got doneRequest
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fotopedia/done", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "OK")
	}))

	it := &item.Item{
		Identifier: "photo:987",
		Stats: item.Stats{
			Downloader: "alice",
			Version:    "20140807.02",
			Items:      []string{"photo:987"},
			Bytes:      map[string]int64{"data": 77},
			ID:         item.StatsID{PipelineHash: "p", LuaHash: "l", GoVersion: "go1.25"},
			Delivery:   map[string]string{"location": "rsync://x/"},
		},
	}
	require.NoError(t, c.Report(context.Background(), it))
	assert.Equal(t, "photo:987", got.Item)
	assert.Equal(t, map[string]int64{"data": 77}, got.Bytes)
	assert.Equal(t, "p", got.ID.PipelineHash)
	assert.Equal(t, "rsync://x/", got.Stats.Delivery["location"])
}

func TestReportFailure(t *testing.T) {
	t.Parallel()

	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "database locked", http.StatusServiceUnavailable)
	}))
	err := c.Report(context.Background(), &item.Item{Identifier: "album:1"})
	require.ErrorIs(t, err, ErrTrackerUnreachable)
	require.ErrorContains(t, err, "database locked")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Downloader: "a"}, nil)
	require.Error(t, err)
	_, err = New(Config{URL: "http://x"}, nil)
	require.Error(t, err)
}
