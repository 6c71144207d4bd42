// Package kroger is a client for the part of the Kroger public API the bridge
// exposes: product search, store location search, and add-to-cart.
//
// Every call obtains a valid access token from the configured
// oauth2.TokenSource first, so an expired token is refreshed before the
// request goes out. Failures are returned as *UpstreamError or *AuthError;
// an empty result with a nil error means the API found nothing.
package kroger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/florianilch/kroger-bridge/internal/metrics"
)

const (
	// DefaultBaseURL is the Kroger public API root.
	DefaultBaseURL = "https://api.kroger.com/v1"

	// DefaultTimeout applies to each API call as a whole.
	DefaultTimeout = 5 * time.Minute

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// Client calls the Kroger API on behalf of the configured entry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	home       Coordinates
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL       string
	timeout       time.Duration
	home          Coordinates
	rateLimit     float64
	burst         int
	baseTransport http.RoundTripper
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHome sets the coordinates used when a location search has no filter.
func WithHome(home Coordinates) Option {
	return func(c *clientConfig) {
		c.home = home
	}
}

// WithRateLimit limits outbound calls to perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *clientConfig) {
		c.rateLimit = perSecond
		c.burst = burst
	}
}

// WithTransport sets the base transport underneath the OAuth2 transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// NewClient creates a Client that authorizes every request with a token from ts.
func NewClient(ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("missing token source")
	}

	cfg := &clientConfig{
		baseURL:       DefaultBaseURL,
		timeout:       DefaultTimeout,
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	base, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", cfg.baseURL)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: &oauth2.Transport{Source: ts, Base: cfg.baseTransport},
		},
		baseURL: strings.TrimRight(base.String(), "/"),
		home:    cfg.home,
	}

	if cfg.rateLimit > 0 {
		burst := cfg.burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.rateLimit), burst)
	}

	return c, nil
}

// request describes one API call.
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do executes req and decodes a JSON response into out. With a nil out, a
// non-empty body must still be valid JSON.
func (c *Client) do(ctx context.Context, req request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.UpstreamRequestDuration.WithLabelValues(req.op).Observe(time.Since(start).Seconds())
		metrics.UpstreamRequestsTotal.WithLabelValues(req.op, outcome(err)).Inc()

		var authErr *AuthError
		switch {
		case err == nil:
		case errors.As(err, &authErr):
			slog.ErrorContext(ctx, "kroger authorization failed, reauthorization required", "operation", req.op, "error", err)
		default:
			slog.ErrorContext(ctx, "kroger api call failed", "operation", req.op, "error", err)
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &UpstreamError{Op: req.op, Err: fmt.Errorf("rate limiter wait: %w", err)}
		}
	}

	endpoint := c.baseURL + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", req.op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classify(req.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &UpstreamError{Op: req.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(req.op, resp.StatusCode, errorDetail(data))
	}

	if out == nil {
		if len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
			return &UpstreamError{Op: req.op, StatusCode: resp.StatusCode, Err: errors.New("malformed JSON response")}
		}
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{Op: req.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// errorDetail extracts a human-readable reason from a Kroger error body.
func errorDetail(data []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err != nil {
		return ""
	}
	switch {
	case apiErr.Errors != nil && apiErr.Errors.Reason != "":
		return apiErr.Errors.Reason
	case apiErr.ErrorDescription != "":
		return apiErr.Error + " - " + apiErr.ErrorDescription
	default:
		return apiErr.Error
	}
}

func outcome(err error) string {
	var authErr *AuthError
	var upstreamErr *UpstreamError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &upstreamErr):
		return "upstream_error"
	default:
		return "error"
	}
}
