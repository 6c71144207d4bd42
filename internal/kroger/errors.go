package kroger

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrInvalidArgument is returned before any network call when a required
// parameter is missing or out of range.
var ErrInvalidArgument = errors.New("invalid argument")

// UpstreamError reports a failed Kroger API call: a transport failure, a
// non-2xx status, malformed JSON, or a response missing an expected field.
type UpstreamError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("kroger %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("kroger %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// AuthError reports that no valid access token could be obtained.
// The integration has to be reauthorized before calls can succeed again.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("kroger %s: authorization required: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrNoToken may be returned by token sources that have nothing to refresh.
// The client classifies it as an AuthError.
var ErrNoToken = errors.New("no oauth2 token available")

// classify turns a transport-level error into an AuthError when it stems
// from the token source, and an UpstreamError otherwise.
func classify(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) || errors.Is(err, ErrNoToken) {
		return &AuthError{Op: op, Err: err}
	}
	return &UpstreamError{Op: op, Err: err}
}

// statusError builds the UpstreamError for a non-2xx response. A 401 means the
// token was rejected, which is reported as an AuthError.
func statusError(op string, status int, detail string) error {
	err := errors.New(http.StatusText(status))
	if detail != "" {
		err = fmt.Errorf("%s: %s", http.StatusText(status), detail)
	}
	if status == http.StatusUnauthorized {
		return &AuthError{Op: op, Err: &UpstreamError{Op: op, StatusCode: status, Err: err}}
	}
	return &UpstreamError{Op: op, StatusCode: status, Err: err}
}
