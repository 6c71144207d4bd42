// Package tokensource implements the Kroger OAuth2 authorization-code flow:
// building the authorize URL, exchanging the code, and refreshing access tokens.
//
// Kroger authenticates the client on the token endpoint with HTTP Basic auth
// (client id and secret), and expects form-encoded grant bodies:
//
//	impl := tokensource.NewImplementation(creds)
//	url := impl.AuthCodeURL(state)
//	tok, err := impl.Exchange(ctx, code)
//	ts := impl.TokenSource(tok) // refreshes with grant_type=refresh_token
//
// # Custom Base Transport
//
// Configure a custom base transport for token requests (e.g., for tests or proxies):
//
//	impl := tokensource.NewImplementation(creds, tokensource.WithTransport(customTransport))
package tokensource
