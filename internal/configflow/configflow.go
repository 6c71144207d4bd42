// Package configflow drives the setup of the single Kroger integration entry
// through the OAuth2 authorization-code flow.
//
// A flow starts at the user step, which hands out the Kroger authorization
// URL, and finishes at the callback with either a new entry or an abort.
// Reauthorization starts at reauth_confirm, then re-enters the user step
// without the single-instance check, and updates the existing entry in place.
package configflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/florianilch/kroger-bridge/internal/entry"
	"github.com/florianilch/kroger-bridge/internal/metrics"
)

// DefaultFlowTTL is how long a started flow waits for its callback.
const DefaultFlowTTL = 10 * time.Minute

// Step identifiers.
const (
	StepUser          = "user"
	StepReauthConfirm = "reauth_confirm"
)

// Abort reasons.
const (
	ReasonSingleInstanceAllowed = "single_instance_allowed"
	ReasonReauthSuccessful      = "reauth_successful"
	ReasonUnknownFlow           = "unknown_flow"
	ReasonUserRejected          = "user_rejected_authorize"
	ReasonOAuthError            = "oauth_error"
)

// ResultType tells the caller what to do with a Result.
type ResultType string

const (
	// ResultExternal asks the caller to send the user to URL.
	ResultExternal ResultType = "external"
	// ResultForm asks the caller to show a confirmation for StepID.
	ResultForm ResultType = "form"
	// ResultCreateEntry reports a newly created entry.
	ResultCreateEntry ResultType = "create_entry"
	// ResultAbort ends the flow with Reason.
	ResultAbort ResultType = "abort"
)

// Source records why a flow was started.
type Source string

const (
	SourceUser   Source = "user"
	SourceReauth Source = "reauth"
)

// Result is the outcome of one flow step.
type Result struct {
	Type    ResultType `json:"type"`
	FlowID  string     `json:"flow_id,omitempty"`
	StepID  string     `json:"step_id,omitempty"`
	URL     string     `json:"url,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Title   string     `json:"title,omitempty"`
	EntryID string     `json:"entry_id,omitempty"`
}

// Implementation is the OAuth2 capability the flow needs.
type Implementation interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

type flow struct {
	id      string
	source  Source
	step    string
	expires time.Time
}

// Manager tracks in-progress flows. Safe for concurrent use.
type Manager struct {
	impl    Implementation
	entries entry.Store
	reload  func()
	ttl     time.Duration
	nowFunc func() time.Time

	mu    sync.Mutex
	flows map[string]*flow
}

// Option configures a Manager.
type Option func(*Manager)

// WithReloadFunc registers fn to run after an existing entry was updated.
func WithReloadFunc(fn func()) Option {
	return func(m *Manager) {
		m.reload = fn
	}
}

// WithFlowTTL overrides DefaultFlowTTL.
func WithFlowTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithNowFunc overrides the time function for testing.
func WithNowFunc(f func() time.Time) Option {
	return func(m *Manager) {
		m.nowFunc = f
	}
}

// NewManager creates a Manager.
func NewManager(impl Implementation, entries entry.Store, opts ...Option) (*Manager, error) {
	if impl == nil {
		return nil, fmt.Errorf("missing oauth2 implementation")
	}
	if entries == nil {
		return nil, fmt.Errorf("missing entry store")
	}

	m := &Manager{
		impl:    impl,
		entries: entries,
		reload:  func() {},
		ttl:     DefaultFlowTTL,
		nowFunc: time.Now,
		flows:   make(map[string]*flow),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartUser begins a new setup. Only one entry may exist.
func (m *Manager) StartUser(ctx context.Context) (Result, error) {
	_, err := m.entries.Load(ctx)
	switch {
	case err == nil:
		return m.abort(ctx, "", ReasonSingleInstanceAllowed), nil
	case !errors.Is(err, entry.ErrNotFound):
		return Result{}, fmt.Errorf("checking existing entry: %w", err)
	}

	f := m.newFlow(SourceUser)
	return m.stepUser(ctx, f), nil
}

// StartReauth begins a reauthorization and asks for confirmation first.
func (m *Manager) StartReauth(ctx context.Context) Result {
	f := m.newFlow(SourceReauth)
	f.step = StepReauthConfirm
	m.put(f)

	slog.InfoContext(ctx, "reauthorization requested", "flow_id", f.id)
	return Result{Type: ResultForm, FlowID: f.id, StepID: StepReauthConfirm}
}

// ConfirmReauth continues a reauth flow into the user step.
func (m *Manager) ConfirmReauth(ctx context.Context, flowID string) Result {
	f, ok := m.take(flowID, StepReauthConfirm)
	if !ok {
		return m.abort(ctx, flowID, ReasonUnknownFlow)
	}
	return m.stepUser(ctx, f)
}

// Callback finishes the flow identified by state. oauthErr is the error
// parameter Kroger appends when the user denied access.
func (m *Manager) Callback(ctx context.Context, state, code, oauthErr string) (Result, error) {
	f, ok := m.take(state, StepUser)
	if !ok {
		return m.abort(ctx, state, ReasonUnknownFlow), nil
	}

	if oauthErr != "" || code == "" {
		slog.WarnContext(ctx, "authorization rejected", "flow_id", f.id, "error", oauthErr)
		return m.abort(ctx, f.id, ReasonUserRejected), nil
	}

	tok, err := m.impl.Exchange(ctx, code)
	if err != nil {
		slog.ErrorContext(ctx, "token exchange failed", "flow_id", f.id, "error", err)
		return m.abort(ctx, f.id, ReasonOAuthError), nil
	}

	return m.createOrUpdateEntry(ctx, f, tok)
}

// createOrUpdateEntry stores tok. For reauth flows the existing entry is
// updated in place and reloaded instead of being duplicated.
func (m *Manager) createOrUpdateEntry(ctx context.Context, f *flow, tok *oauth2.Token) (Result, error) {
	existing, err := m.entries.Load(ctx)
	switch {
	case err == nil && f.source == SourceUser:
		// Another setup finished first
		return m.abort(ctx, f.id, ReasonSingleInstanceAllowed), nil
	case err == nil:
		existing.Token = tok
		if err := m.entries.Save(ctx, existing); err != nil {
			return Result{}, fmt.Errorf("updating entry: %w", err)
		}
		m.reload()
		slog.InfoContext(ctx, "entry reauthorized", "flow_id", f.id, "entry_id", existing.ID)
		return m.abort(ctx, f.id, ReasonReauthSuccessful), nil
	case !errors.Is(err, entry.ErrNotFound):
		return Result{}, fmt.Errorf("loading entry: %w", err)
	}

	e := &entry.Entry{
		ID:    uuid.NewString(),
		Title: entry.DefaultTitle,
		Token: tok,
	}
	if err := m.entries.Save(ctx, e); err != nil {
		return Result{}, fmt.Errorf("creating entry: %w", err)
	}
	m.reload()

	slog.InfoContext(ctx, "entry created", "flow_id", f.id, "entry_id", e.ID)
	metrics.ConfigFlowsTotal.WithLabelValues(string(ResultCreateEntry), "").Inc()
	return Result{Type: ResultCreateEntry, FlowID: f.id, Title: e.Title, EntryID: e.ID}, nil
}

// stepUser hands out the authorization URL; the flow id doubles as OAuth2 state.
func (m *Manager) stepUser(ctx context.Context, f *flow) Result {
	f.step = StepUser
	f.expires = m.nowFunc().Add(m.ttl)
	m.put(f)

	slog.DebugContext(ctx, "waiting for authorization callback", "flow_id", f.id, "source", f.source)
	return Result{Type: ResultExternal, FlowID: f.id, StepID: StepUser, URL: m.impl.AuthCodeURL(f.id)}
}

func (m *Manager) abort(ctx context.Context, flowID, reason string) Result {
	slog.InfoContext(ctx, "config flow aborted", "flow_id", flowID, "reason", reason)
	metrics.ConfigFlowsTotal.WithLabelValues(string(ResultAbort), reason).Inc()
	return Result{Type: ResultAbort, FlowID: flowID, Reason: reason}
}

func (m *Manager) newFlow(source Source) *flow {
	return &flow{
		id:      uuid.NewString(),
		source:  source,
		expires: m.nowFunc().Add(m.ttl),
	}
}

func (m *Manager) put(f *flow) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	m.flows[f.id] = f
}

// take removes and returns the flow id if it is waiting at step.
func (m *Manager) take(id, step string) (*flow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	f, ok := m.flows[id]
	if !ok || f.step != step {
		return nil, false
	}
	delete(m.flows, id)
	return f, true
}

// Pending returns the number of unexpired flows.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	return len(m.flows)
}

func (m *Manager) pruneLocked() {
	now := m.nowFunc()
	for id, f := range m.flows {
		if now.After(f.expires) {
			delete(m.flows, id)
		}
	}
}
