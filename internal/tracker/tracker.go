// Package tracker speaks the tracker's v2 HTTP protocol: claim, upload target and done.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/policy/ratelimit"
	"github.com/JakeFAU/fotopedia-grab/internal/queue"
)

const apiVersion = "2"

// StatusRateLimited is the tracker's "enhance your calm" status.
const StatusRateLimited = 420

var (
	// ErrNoItems means the tracker has nothing to hand out right now.
	ErrNoItems = errors.New("tracker has no items")
	// ErrRateLimited means the tracker asked this worker to slow down.
	ErrRateLimited = errors.New("tracker rate limited")
	// ErrTrackerUnreachable covers transport failures and unexpected tracker responses.
	ErrTrackerUnreachable = errors.New("tracker unreachable")
)

// Config identifies the tracker and this worker.
type Config struct {
	// URL is the project endpoint, e.g. http://tracker.archiveteam.org/fotopedia.
	URL        string
	Downloader string
	Version    string
	// ClaimInterval spaces claim requests.
	ClaimInterval time.Duration
	// Backoff holds further claims after the tracker rate-limits us.
	Backoff time.Duration
	Timeout time.Duration
}

// Client is a tracker HTTP client. It satisfies queue.Source.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLimiter shares a limiter with other callers.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Client) {
		if l != nil {
			cl.limiter = l
		}
	}
}

// New validates cfg and returns a Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("tracker url is required")
	}
	if strings.TrimSpace(cfg.Downloader) == "" {
		return nil, fmt.Errorf("downloader name is required")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.New(ratelimit.Config{Interval: cfg.ClaimInterval}),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Limiter exposes the claim limiter so callers can observe its delays.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

type claimRequest struct {
	Downloader string `json:"downloader"`
	APIVersion string `json:"api_version"`
	Version    string `json:"version"`
}

type claimResponse struct {
	ItemName string `json:"item_name"`
}

// Claim asks the tracker for the next identifier. No item and rate limiting both
// wrap queue.ErrEmpty so loops back off instead of failing.
func (c *Client) Claim(ctx context.Context) (string, error) {
	endpoint := c.cfg.URL + "/request"
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return "", err
	}
	status, body, err := c.post(ctx, endpoint, claimRequest{
		Downloader: c.cfg.Downloader,
		APIVersion: apiVersion,
		Version:    c.cfg.Version,
	})
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusNotFound:
		return "", fmt.Errorf("%w: %w", ErrNoItems, queue.ErrEmpty)
	case status == StatusRateLimited || status == http.StatusTooManyRequests:
		c.limiter.Penalize(endpoint, c.cfg.Backoff)
		c.logger.Info("tracker rate limited, backing off", zap.Duration("backoff", c.cfg.Backoff))
		return "", fmt.Errorf("%w: %w", ErrRateLimited, queue.ErrEmpty)
	case status != http.StatusOK:
		return "", fmt.Errorf("%w: claim returned %d", ErrTrackerUnreachable, status)
	}

	name := parseItemName(body)
	if name == "" {
		return "", fmt.Errorf("%w: %w", ErrNoItems, queue.ErrEmpty)
	}
	c.logger.Debug("claimed item", zap.String("item", name))
	return name, nil
}

func parseItemName(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var resp claimResponse
		if err := json.Unmarshal(trimmed, &resp); err == nil {
			return strings.TrimSpace(resp.ItemName)
		}
	}
	return string(trimmed)
}

type uploadRequest struct {
	Downloader string `json:"downloader"`
	Version    string `json:"version"`
}

// UploadTarget asks the tracker where to deliver the next container.
func (c *Client) UploadTarget(ctx context.Context) (string, error) {
	status, body, err := c.post(ctx, c.cfg.URL+"/upload", uploadRequest{
		Downloader: c.cfg.Downloader,
		Version:    c.cfg.Version,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: upload target returned %d", ErrTrackerUnreachable, status)
	}
	target := strings.TrimSpace(string(body))
	if target == "" {
		return "", fmt.Errorf("%w: empty upload target", ErrTrackerUnreachable)
	}
	return target, nil
}

type doneRequest struct {
	Downloader string           `json:"downloader"`
	Version    string           `json:"version"`
	Item       string           `json:"item"`
	Bytes      map[string]int64 `json:"bytes"`
	ID         item.StatsID     `json:"id"`
	Stats      item.Stats       `json:"stats"`
}

// Report marks it done with its accumulated stats. It never touches the container.
func (c *Client) Report(ctx context.Context, it *item.Item) error {
	status, body, err := c.post(ctx, c.cfg.URL+"/done", doneRequest{
		Downloader: c.cfg.Downloader,
		Version:    c.cfg.Version,
		Item:       it.Identifier,
		Bytes:      it.Stats.Bytes,
		ID:         it.Stats.ID,
		Stats:      it.Stats,
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: done returned %d: %s", ErrTrackerUnreachable, status, truncate(body))
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal tracker request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("build tracker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("tracker request: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("%w: %w", ErrTrackerUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", ErrTrackerUnreachable, err)
	}
	return resp.StatusCode, body, nil
}

func truncate(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
