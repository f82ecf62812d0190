package refresh

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider is a Provider for JSON-over-HTTP upstreams (contribution
// graph APIs, badge endpoints, engagement metrics). Only 200 responses
// produce data; anything else is an upstream failure.
type HTTPProvider struct {
	httpClient *http.Client
	url        string
	userAgent  string
	headers    map[string]string
}

// HTTPOption customizes an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default HTTP client (used by tests).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.httpClient = c }
}

// WithHeader adds a request header, e.g. an API token.
func WithHeader(name, value string) HTTPOption {
	return func(p *HTTPProvider) { p.headers[name] = value }
}

// NewHTTPProvider creates a provider fetching from a fixed URL.
func NewHTTPProvider(url, userAgent string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		userAgent:  userAgent,
		headers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")
	for name, value := range p.headers {
		req.Header.Set(name, value)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %d", p.url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
