package tokensource_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/kroger-bridge/internal/metrics"
	"github.com/florianilch/kroger-bridge/internal/tokensource"
)

type tokenServer struct {
	*httptest.Server
	calls     atomic.Int32
	lastForm  atomic.Pointer[url.Values]
	lastUser  atomic.Pointer[string]
	lastPass  atomic.Pointer[string]
	status    int
	accessTok string
}

func newTokenServer(t *testing.T, status int, accessTok string) *tokenServer {
	t.Helper()

	ts := &tokenServer{status: status, accessTok: accessTok}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form := r.PostForm
		ts.lastForm.Store(&form)
		if user, pass, ok := r.BasicAuth(); ok {
			ts.lastUser.Store(&user)
			ts.lastPass.Store(&pass)
		}

		w.Header().Set("Content-Type", "application/json")
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"` + ts.accessTok + `","refresh_token":"new-refresh","token_type":"bearer","expires_in":1800}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newImplementation(server *tokenServer) *tokensource.Implementation {
	return tokensource.NewImplementation(tokensource.Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:4000/auth/kroger/callback",
		Endpoint:     tokensource.NewEndpoint(server.URL + "/v1/"),
	})
}

func TestNewEndpoint(t *testing.T) {
	t.Parallel()

	ep := tokensource.NewEndpoint("https://api.kroger.com/v1/")
	assert.Equal(t, "https://api.kroger.com/v1/oauth2/authorize", ep.AuthURL)
	assert.Equal(t, "https://api.kroger.com/v1/connect/oauth2/token", ep.TokenURL)
	assert.Equal(t, oauth2.AuthStyleInHeader, ep.AuthStyle)
}

func TestImplementation_AuthCodeURL(t *testing.T) {
	t.Parallel()

	impl := tokensource.NewImplementation(tokensource.Credentials{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:4000/auth/kroger/callback",
		Endpoint:    tokensource.NewEndpoint("https://api.kroger.com/v1"),
	})

	raw := impl.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/v1/oauth2/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "cart.basic:write product.compact locations", q.Get("scope"))
	assert.Equal(t, "http://localhost:4000/auth/kroger/callback", q.Get("redirect_uri"))
}

func TestImplementation_Exchange(t *testing.T) {
	t.Parallel()

	server := newTokenServer(t, http.StatusOK, "fresh-access")
	impl := newImplementation(server)

	tok, err := impl.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)

	form := server.lastForm.Load()
	require.NotNil(t, form)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code", form.Get("code"))
	assert.Equal(t, "client-id", *server.lastUser.Load())
	assert.Equal(t, "client-secret", *server.lastPass.Load())
}

func TestImplementation_TokenSource_RefreshesExpiredTokenOnce(t *testing.T) {
	t.Parallel()

	server := newTokenServer(t, http.StatusOK, "fresh-access")
	impl := newImplementation(server)

	ts := impl.TokenSource(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	})

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", tok.AccessToken)
	assert.Equal(t, int32(1), server.calls.Load())

	form := server.lastForm.Load()
	require.NotNil(t, form)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "old-refresh", form.Get("refresh_token"))
	assert.Equal(t, "client-id", *server.lastUser.Load())
	assert.Equal(t, "client-secret", *server.lastPass.Load())

	// The refreshed token is valid, so the next call must not hit the endpoint.
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), server.calls.Load())
}

func TestImplementation_TokenSource_ValidTokenSkipsRefresh(t *testing.T) {
	t.Parallel()

	server := newTokenServer(t, http.StatusOK, "fresh-access")
	impl := newImplementation(server)

	ts := impl.TokenSource(&oauth2.Token{
		AccessToken:  "still-good",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(time.Hour),
	})

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "still-good", tok.AccessToken)
	assert.Equal(t, int32(0), server.calls.Load())
}

func TestImplementation_TokenSource_RevokedRefreshToken(t *testing.T) {
	t.Parallel()

	server := newTokenServer(t, http.StatusBadRequest, "")
	impl := newImplementation(server)

	ts := impl.TokenSource(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Minute),
	})

	_, err := ts.Token()
	require.Error(t, err)

	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)
}

// Runs without t.Parallel so the counter deltas are exact.
func TestImplementation_CountsTokenRequestsByGrantType(t *testing.T) {
	server := newTokenServer(t, http.StatusOK, "fresh-access")
	impl := newImplementation(server)

	exchanges := metrics.TokenRequestsTotal.WithLabelValues("authorization_code", "success")
	refreshes := metrics.TokenRequestsTotal.WithLabelValues("refresh_token", "success")
	exchangesBefore := testutil.ToFloat64(exchanges)
	refreshesBefore := testutil.ToFloat64(refreshes)

	_, err := impl.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)

	_, err = impl.TokenSource(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}).Token()
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(exchanges)-exchangesBefore, 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(refreshes)-refreshesBefore, 0.0001)
}
