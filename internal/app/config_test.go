package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/kroger-bridge/internal/entry"
	"github.com/florianilch/kroger-bridge/internal/kroger"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		Auth: AuthConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			File:         filepath.Join(t.TempDir(), "entry.json"),
		},
	}
	require.NoError(t, cfg.ApplyDefaults())
	return cfg
}

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)

	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, LogExporterNone, cfg.LogExporter)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, uint16(4000), cfg.Server.Port)
	assert.Equal(t, DefaultConfigShutdownTimeout, cfg.Shutdown.Timeout)
	assert.Equal(t, kroger.DefaultBaseURL, cfg.Upstream.BaseURL)
	assert.Equal(t, kroger.DefaultTimeout, cfg.Upstream.Timeout)
	assert.Equal(t, 1, cfg.Upstream.Burst)
	assert.Equal(t, TokenStorageTypeFile, cfg.Auth.Storage)
	assert.Equal(t, "http://127.0.0.1:4000/auth/kroger/callback", cfg.Auth.RedirectURL)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ApplyDefaults_IPv6Host(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{Host: "::1"},
		Auth: AuthConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			File:         filepath.Join(t.TempDir(), "entry.json"),
		},
	}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, "[::1]:4000", cfg.Address())
	assert.Equal(t, "http://[::1]:4000/auth/kroger/callback", cfg.Auth.RedirectURL)
}

func TestConfig_ApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8123},
		Auth: AuthConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "https://bridge.example/auth/kroger/callback",
			Storage:      TokenStorageTypeKeyring,
			KeyringUser:  "alice",
		},
	}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, "0.0.0.0:8123", cfg.Address())
	assert.Equal(t, "https://bridge.example/auth/kroger/callback", cfg.Auth.RedirectURL)
	assert.Equal(t, "alice", cfg.Auth.KeyringUser)
	assert.Empty(t, cfg.Auth.File)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing client id", mutate: func(c *Config) { c.Auth.ClientID = "" }},
		{name: "missing client secret", mutate: func(c *Config) { c.Auth.ClientSecret = "" }},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
		{name: "unknown log exporter", mutate: func(c *Config) { c.LogExporter = "syslog" }},
		{name: "unknown storage", mutate: func(c *Config) { c.Auth.Storage = "vault" }},
		{name: "invalid base url", mutate: func(c *Config) { c.Upstream.BaseURL = "not a url" }},
		{name: "non-positive timeout", mutate: func(c *Config) { c.Upstream.Timeout = -1 }},
		{name: "negative rate limit", mutate: func(c *Config) { c.Upstream.RateLimit = -1 }},
		{name: "latitude out of range", mutate: func(c *Config) { c.Home.Latitude = 91 }},
		{name: "longitude out of range", mutate: func(c *Config) { c.Home.Longitude = -181 }},
		{name: "file storage without path", mutate: func(c *Config) { c.Auth.File = "" }},
		{name: "keyring storage without user", mutate: func(c *Config) {
			c.Auth.Storage = TokenStorageTypeKeyring
			c.Auth.KeyringUser = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Auth.ClientID = ""

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_WiresUnauthorizedApp(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)

	application, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, application.Handler())

	authorized, err := IsAuthorized(context.Background(), application.entries)
	require.NoError(t, err)
	assert.False(t, authorized)

	_, err = LoadEntry(context.Background(), cfg.Auth)
	assert.ErrorIs(t, err, entry.ErrNotFound)

	// Calls fail before reaching Kroger until the config flow ran
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/kroger/products?term=milk", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "integration has not been authorized")
}
