package tokensource

import (
	"strings"

	"golang.org/x/oauth2"
)

// Paths of the OAuth2 endpoints relative to the Kroger API base URL.
const (
	authorizePath = "/oauth2/authorize"
	tokenPath     = "/connect/oauth2/token" //nolint:gosec // not a credential
)

// Scopes requested during authorization.
var Scopes = []string{"cart.basic:write", "product.compact", "locations"}

// NewEndpoint returns the Kroger OAuth2 endpoints under baseURL.
// Client credentials are sent with HTTP Basic auth.
func NewEndpoint(baseURL string) oauth2.Endpoint {
	base := strings.TrimRight(baseURL, "/")
	return oauth2.Endpoint{
		AuthURL:   base + authorizePath,
		TokenURL:  base + tokenPath,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}
