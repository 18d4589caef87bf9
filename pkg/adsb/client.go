package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every provider request.
const DefaultTimeout = 10 * time.Second

// Option configures a provider client.
type Option func(*httpClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTimeout sets the per-request timeout. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *httpClient) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithRateLimit enforces a minimum interval between requests (burst of 1).
// Zero disables rate limiting.
func WithRateLimit(interval time.Duration) Option {
	return func(h *httpClient) {
		if interval > 0 {
			h.limiter = rate.NewLimiter(rate.Every(interval), 1)
		} else {
			h.limiter = nil
		}
	}
}

// WithSecureOrigin makes the client refuse plain-http URLs with ErrMixedContent.
func WithSecureOrigin(secure bool) Option {
	return func(h *httpClient) {
		h.secureOrigin = secure
	}
}

// withClock overrides the time source used for LastSeen; tests only.
func withClock(now func() time.Time) Option {
	return func(h *httpClient) {
		h.now = now
	}
}

// httpClient is the request plumbing shared by all providers.
type httpClient struct {
	// provider is the provider name used in errors
	provider string

	// client is the HTTP client used for API requests
	client *http.Client

	// limiter spaces requests out; nil means unlimited
	limiter *rate.Limiter

	// secureOrigin rejects http:// URLs when set
	secureOrigin bool

	// now returns the current time (UTC)
	now func() time.Time
}

func newHTTPClient(provider string, opts ...Option) httpClient {
	h := httpClient{
		provider: provider,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// getJSON performs a GET and decodes a JSON body into v.
func (h *httpClient) getJSON(ctx context.Context, rawURL string, v any) error {
	if h.secureOrigin && isInsecureURL(rawURL) {
		return &FetchError{
			Provider: h.provider,
			Kind:     ErrMixedContent,
			Err:      fmt.Errorf("refusing to fetch %s from a secure origin", rawURL),
		}
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &FetchError{Provider: h.provider, Kind: ErrTransport, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &FetchError{Provider: h.provider, Kind: ErrTransport, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FetchError{
			Provider: h.provider,
			Kind:     ErrTransport,
			Err:      fmt.Errorf("failed to fetch aircraft data: %w", err),
		}
	}
	defer resp.Body.Close()

	// Check for rate limit (HTTP 429)
	if resp.StatusCode == http.StatusTooManyRequests {
		return &FetchError{
			Provider:   h.provider,
			Kind:       ErrTransport,
			StatusCode: resp.StatusCode,
			Err: &RateLimitError{
				StatusCode: resp.StatusCode,
				RetryAfter: parseRetryAfter(resp.Header),
				Message:    "Rate limit exceeded",
				Headers:    extractRateLimitHeaders(resp.Header),
			},
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{
			Provider:   h.provider,
			Kind:       ErrTransport,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FetchError{
			Provider:   h.provider,
			Kind:       ErrMalformed,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to parse API response: %w", err),
		}
	}

	return nil
}

func (h *httpClient) malformed(format string, args ...any) error {
	return &FetchError{
		Provider: h.provider,
		Kind:     ErrMalformed,
		Err:      fmt.Errorf(format, args...),
	}
}

// isInsecureURL reports whether rawURL uses plain http.
func isInsecureURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "http")
}
