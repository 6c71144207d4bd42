package tokensource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/kroger-bridge/internal/metrics"
)

// defaultTimeout bounds token requests, including refreshes issued from
// context.Background inside oauth2.
const defaultTimeout = 30 * time.Second

// Credentials identify this client to the Kroger token endpoint.
// Built once at startup from configuration and never mutated.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
}

// Option configures an Implementation.
type Option func(*implementationConfig)

type implementationConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for token requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *implementationConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout overrides the token request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *implementationConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Implementation performs the OAuth2 authorization-code flow against Kroger.
type Implementation struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewImplementation creates an Implementation for the given credentials.
func NewImplementation(creds Credentials, opts ...Option) *Implementation {
	cfg := &implementationConfig{
		baseTransport: http.DefaultTransport,
		timeout:       defaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Implementation{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     creds.Endpoint,
		},
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: &tokenRequestTransport{base: cfg.baseTransport},
		},
	}
}

// AuthCodeURL returns the URL the user visits to authorize this client.
func (i *Implementation) AuthCodeURL(state string) string {
	return i.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair.
func (i *Implementation) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := i.config.Exchange(i.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

// TokenSource returns a source that hands out tok until it expires and then
// refreshes it with grant_type=refresh_token.
func (i *Implementation) TokenSource(tok *oauth2.Token) oauth2.TokenSource {
	// oauth2 keeps this context for every future refresh, so it must not be
	// tied to a request.
	return i.config.TokenSource(i.withClient(context.Background()), tok)
}

func (i *Implementation) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, i.httpClient)
}

// tokenRequestTransport records every token endpoint call by grant type.
// The oauth2 package only sends token endpoint requests through this transport.
type tokenRequestTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRequestTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRequestTransport)(nil)

// RoundTrip peeks at the form-encoded grant type, forwards the request, and
// counts the outcome.
func (t *tokenRequestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	grantType := "unknown"
	if req.Body != nil {
		defer func() { _ = req.Body.Close() }()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		if form, err := url.ParseQuery(string(body)); err == nil && form.Get("grant_type") != "" {
			grantType = form.Get("grant_type")
		}

		newReq := req.Clone(req.Context())
		newReq.Body = io.NopCloser(bytes.NewReader(body))
		newReq.ContentLength = int64(len(body))
		req = newReq
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		metrics.TokenRequestsTotal.WithLabelValues(grantType, "error").Inc()
		slog.ErrorContext(req.Context(), "token request failed", "grant_type", grantType, "error", err)
		return nil, err
	}

	outcome := "success"
	if resp.StatusCode >= http.StatusBadRequest {
		outcome = "status_" + strconv.Itoa(resp.StatusCode)
		slog.WarnContext(req.Context(), "token endpoint rejected request", "grant_type", grantType, "status", resp.StatusCode)
	} else {
		slog.DebugContext(req.Context(), "token request succeeded", "grant_type", grantType)
	}
	metrics.TokenRequestsTotal.WithLabelValues(grantType, outcome).Inc()

	return resp, nil
}
