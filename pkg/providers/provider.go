package providers

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"inkwell/pkg/schema"
)

const (
	DefaultCount   = 15
	defaultTimeout = 30 * time.Second
)

var ErrUnavailable = errors.New("provider is not configured")

// Provider searches one image source and normalises its results.
type Provider interface {
	Name() string
	Available() bool
	// FormatQuery adapts a plain search phrase to the provider's query dialect.
	FormatQuery(query string) string
	Search(ctx context.Context, query, contentType string, count int) ([]schema.ImageResult, error)
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

type Option func(*client)

// WithBaseURL points the provider at another host, such as an httptest server.
func WithBaseURL(u string) Option {
	return func(c *client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *client) { c.http = h }
}

// WithLimiter replaces the provider's default request rate. nil disables throttling.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *client) { c.limiter = l }
}

func WithLogger(l *log.Logger) Option {
	return func(c *client) { c.log = l }
}

// client is the HTTP plumbing shared by every provider.
type client struct {
	name    string
	key     string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *log.Logger
}

func newClient(name, key, baseURL string, limit rate.Limit, burst int, opts []Option) client {
	c := client{
		name:    name,
		key:     strings.TrimSpace(key),
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.log = cmp.Or(c.log, log.Default()).With("provider", name)
	return c
}

func (c *client) Name() string { return c.name }

func (c *client) FormatQuery(query string) string { return query }

func (c *client) getJSON(ctx context.Context, path string, params url.Values, header http.Header, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit: %w", c.name, err)
		}
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()
	c.log.Debug("search request", "path", path, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

func orientation(contentType string) string {
	if contentType == schema.EntityCharacter {
		return "portrait"
	}
	return "landscape"
}

func clampCount(count, upper int) int {
	if count <= 0 {
		count = DefaultCount
	}
	return min(count, upper)
}

// keepWithURL drops results without an image URL and caps the list.
func keepWithURL(in []schema.ImageResult, count int) []schema.ImageResult {
	out := make([]schema.ImageResult, 0, min(len(in), count))
	for _, r := range in {
		if r.URL == "" {
			continue
		}
		out = append(out, r)
		if len(out) == count {
			break
		}
	}
	return out
}
