package configflow_test

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/kroger-bridge/internal/configflow"
	"github.com/florianilch/kroger-bridge/internal/entry"
	"github.com/florianilch/kroger-bridge/internal/tokenstore"
)

type fakeImplementation struct {
	exchanges atomic.Int32
	token     *oauth2.Token
	err       error
}

func (f *fakeImplementation) AuthCodeURL(state string) string {
	return "https://api.kroger.com/v1/oauth2/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeImplementation) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.exchanges.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	tok := *f.token
	tok.AccessToken = tok.AccessToken + "-" + code
	return &tok, nil
}

type fixture struct {
	impl    *fakeImplementation
	entries *entry.TokenStoreBacked
	reloads *atomic.Int32
	manager *configflow.Manager
	now     *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend, err := tokenstore.NewFileStore(filepath.Join(t.TempDir(), "entry.json"))
	require.NoError(t, err)
	entries, err := entry.NewStore(backend)
	require.NoError(t, err)

	impl := &fakeImplementation{token: &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(30 * time.Minute),
	}}

	reloads := &atomic.Int32{}
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	f := &fixture{impl: impl, entries: entries, reloads: reloads, now: &now}

	f.manager, err = configflow.NewManager(impl, entries,
		configflow.WithReloadFunc(func() { reloads.Add(1) }),
		configflow.WithNowFunc(func() time.Time { return *f.now }),
	)
	require.NoError(t, err)
	return f
}

func stateOf(t *testing.T, res configflow.Result) string {
	t.Helper()

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestManager_UserFlowCreatesEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.StartUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, configflow.ResultExternal, res.Type)
	assert.Equal(t, configflow.StepUser, res.StepID)
	assert.Equal(t, res.FlowID, stateOf(t, res))

	done, err := f.manager.Callback(ctx, stateOf(t, res), "code-1", "")
	require.NoError(t, err)
	assert.Equal(t, configflow.ResultCreateEntry, done.Type)
	assert.Equal(t, entry.DefaultTitle, done.Title)
	assert.NotEmpty(t, done.EntryID)

	stored, err := f.entries.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, done.EntryID, stored.ID)
	assert.Equal(t, "access-code-1", stored.Token.AccessToken)
	assert.Equal(t, 0, f.manager.Pending())
}

func TestManager_SecondInstanceAborts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.StartUser(ctx)
	require.NoError(t, err)
	_, err = f.manager.Callback(ctx, res.FlowID, "code-1", "")
	require.NoError(t, err)

	again, err := f.manager.StartUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, configflow.ResultAbort, again.Type)
	assert.Equal(t, configflow.ReasonSingleInstanceAllowed, again.Reason)
	assert.Equal(t, int32(1), f.impl.exchanges.Load())
}

func TestManager_ReauthUpdatesExistingEntryInPlace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.StartUser(ctx)
	require.NoError(t, err)
	created, err := f.manager.Callback(ctx, res.FlowID, "first", "")
	require.NoError(t, err)
	reloadsAfterCreate := f.reloads.Load()

	form := f.manager.StartReauth(ctx)
	assert.Equal(t, configflow.ResultForm, form.Type)
	assert.Equal(t, configflow.StepReauthConfirm, form.StepID)

	// A reauth flow must not hit the single-instance guard.
	external := f.manager.ConfirmReauth(ctx, form.FlowID)
	require.Equal(t, configflow.ResultExternal, external.Type)
	assert.Equal(t, form.FlowID, stateOf(t, external))

	done, err := f.manager.Callback(ctx, form.FlowID, "second", "")
	require.NoError(t, err)
	assert.Equal(t, configflow.ResultAbort, done.Type)
	assert.Equal(t, configflow.ReasonReauthSuccessful, done.Reason)

	stored, err := f.entries.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.EntryID, stored.ID, "entry is updated, not duplicated")
	assert.Equal(t, "access-second", stored.Token.AccessToken)
	assert.Equal(t, reloadsAfterCreate+1, f.reloads.Load())
}

func TestManager_ConcurrentUserFlowsCreateOneEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.StartUser(ctx)
	require.NoError(t, err)
	second, err := f.manager.StartUser(ctx)
	require.NoError(t, err)

	created, err := f.manager.Callback(ctx, first.FlowID, "first", "")
	require.NoError(t, err)
	require.Equal(t, configflow.ResultCreateEntry, created.Type)

	late, err := f.manager.Callback(ctx, second.FlowID, "second", "")
	require.NoError(t, err)
	assert.Equal(t, configflow.ResultAbort, late.Type)
	assert.Equal(t, configflow.ReasonSingleInstanceAllowed, late.Reason)

	stored, err := f.entries.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.EntryID, stored.ID)
	assert.Equal(t, "access-first", stored.Token.AccessToken)
}

func TestManager_ConfirmReauthUnknownFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res := f.manager.ConfirmReauth(context.Background(), "does-not-exist")
	assert.Equal(t, configflow.ResultAbort, res.Type)
	assert.Equal(t, configflow.ReasonUnknownFlow, res.Reason)
}

func TestManager_CallbackFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		exchange   error
		code       string
		oauthErr   string
		wantReason string
	}{
		{name: "user denied", oauthErr: "access_denied", wantReason: configflow.ReasonUserRejected},
		{name: "missing code", wantReason: configflow.ReasonUserRejected},
		{name: "exchange fails", code: "c", exchange: errors.New("boom"), wantReason: configflow.ReasonOAuthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.impl.err = tt.exchange
			ctx := context.Background()

			res, err := f.manager.StartUser(ctx)
			require.NoError(t, err)

			done, err := f.manager.Callback(ctx, res.FlowID, tt.code, tt.oauthErr)
			require.NoError(t, err)
			assert.Equal(t, configflow.ResultAbort, done.Type)
			assert.Equal(t, tt.wantReason, done.Reason)

			_, err = f.entries.Load(ctx)
			assert.ErrorIs(t, err, entry.ErrNotFound)

			// The state is single use.
			replay, err := f.manager.Callback(ctx, res.FlowID, "c", "")
			require.NoError(t, err)
			assert.Equal(t, configflow.ReasonUnknownFlow, replay.Reason)
		})
	}
}

func TestManager_ExpiredFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.StartUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.manager.Pending())

	*f.now = f.now.Add(configflow.DefaultFlowTTL + time.Second)

	done, err := f.manager.Callback(ctx, res.FlowID, "code", "")
	require.NoError(t, err)
	assert.Equal(t, configflow.ReasonUnknownFlow, done.Reason)
	assert.Equal(t, 0, f.manager.Pending())
	assert.Equal(t, int32(0), f.impl.exchanges.Load())
}

func TestManager_ReauthStateCannotBeUsedBeforeConfirm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	form := f.manager.StartReauth(ctx)

	done, err := f.manager.Callback(ctx, form.FlowID, "code", "")
	require.NoError(t, err)
	assert.Equal(t, configflow.ReasonUnknownFlow, done.Reason)
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	_, err := configflow.NewManager(nil, nil)
	assert.Error(t, err)

	_, err = configflow.NewManager(&fakeImplementation{}, nil)
	assert.Error(t, err)
}
