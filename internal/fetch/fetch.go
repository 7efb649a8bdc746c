// Package fetch downloads raw feed documents and pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "readingsbot/pkg/logx"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; readingsbot/1.0)"
	defaultTimeout   = 20 * time.Second
	defaultMaxBytes  = 8 << 20
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err carries a non-success HTTP status, returning it.
func IsStatus(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

type Config struct {
	UserAgent string
	Timeout   time.Duration
	Retries   int
	MaxBytes  int64
}

// Client fetches URLs with a fixed User-Agent, a per-attempt timeout and bounded retries.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger

	// sleep is the backoff wait; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &uaTransport{base: http.DefaultTransport, ua: cfg.UserAgent},
		},
		log:   log,
		sleep: sleepCtx,
	}
}

// HTTPClient exposes the underlying client so parsers can share its transport.
func (c *Client) HTTPClient() *http.Client { return c.http }

// FetchBytes returns the body of url. Non-2xx answers yield a *StatusError.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	var last error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		b, err := c.fetchOnce(ctx, url)
		if err == nil {
			return b, nil
		}
		last = err
		if ctx.Err() != nil || !retryable(err) || attempt == c.cfg.Retries {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.log.Debug("fetch retry scheduled", logx.String("url", url), logx.Int("attempt", attempt+2), logx.Duration("backoff", backoff), logx.Err(err))
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, last
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}
	if int64(len(b)) > c.cfg.MaxBytes {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", url, c.cfg.MaxBytes)
	}
	return b, nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// transport level failures (timeouts, refused connections, DNS)
	return true
}

type uaTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
