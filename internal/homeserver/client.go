// Package homeserver fetches content objects from a user's origin
// homeserver. It is used only to backfill missing dependencies.
package homeserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gillohner/pubky-nexus/internal/uri"
)

// ErrObjectNotFound is returned when the homeserver has no object at the
// requested path.
var ErrObjectNotFound = errors.New("homeserver: object not found")

// maxObjectSize bounds a fetched payload.
const maxObjectSize = 1 << 20

// ClientOptions configures a Client. Zero fields take defaults.
type ClientOptions struct {
	BaseURL string
	// ID identifies the homeserver node in the graph.
	ID         string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client reads objects over HTTP from
// {base}/{author}/pub/pubky.app/{path}.
type Client struct {
	baseURL    string
	id         string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient builds a Client.
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:6286"
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = "default"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Second
	}
	return &Client{
		baseURL:    baseURL,
		id:         id,
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ID returns the homeserver id.
func (c *Client) ID() string { return c.id }

// ObjectURL returns the HTTP location of ref.
func (c *Client) ObjectURL(ref uri.Ref) string {
	return c.baseURL + "/" + strings.TrimPrefix(ref.String(), uri.Scheme)
}

// FetchObject downloads the payload of ref. 5xx and 429 responses and
// transport errors are retried with exponential backoff; a 404 returns
// ErrObjectNotFound immediately.
func (c *Client) FetchObject(ctx context.Context, ref uri.Ref) ([]byte, error) {
	url := c.ObjectURL(ref)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref, err)
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("fetch %s: %w", ref, err)
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("fetch %s: read body: %w", ref, readErr)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			if len(body) > maxObjectSize {
				return nil, fmt.Errorf("fetch %s: object exceeds %d bytes", ref, maxObjectSize)
			}
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("fetch %s: %w", ref, ErrObjectNotFound)
		case (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries:
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, fmt.Errorf("fetch %s: status=%d message=%s", ref, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
