package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:7878", cfg.HTTP.Addr)
	assert.Equal(t, "/var/lib/focusd/state.db", cfg.Store.DB)
	assert.Equal(t, "/var/lib/focusd/rules.db", cfg.Engine.DB)
	assert.Equal(t, 4096, cfg.Engine.Cache.Size)
	assert.InDelta(t, 0.01, cfg.Engine.FPRate, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.ApplyTimeout)
	assert.Equal(t, time.Second, cfg.Notify.Timeout)
	assert.Equal(t, []string{"localhost", "127.0.0.1", "vercel.app", "netlify.app", "github.io"}, cfg.Notify.Origins)
	assert.Equal(t, "http://127.0.0.1:7878/blocked", cfg.Placeholder.URL)
	assert.Equal(t, "/etc/focusd/presets.d/", cfg.Preset.Dir)
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("FOCUS_ENV", "dev")
	t.Setenv("FOCUS_LOG_LEVEL", "debug")
	t.Setenv("FOCUS_HTTP_ADDR", ":9000")
	t.Setenv("FOCUS_STORE_DB", "/tmp/state.db")
	t.Setenv("FOCUS_ENGINE_DB", "/tmp/rules.db")
	t.Setenv("FOCUS_ENGINE_CACHE_SIZE", "0")
	t.Setenv("FOCUS_ENGINE_FP_RATE", "0.001")
	t.Setenv("FOCUS_RECONCILE_INTERVAL", "500ms")
	t.Setenv("FOCUS_RECONCILE_APPLY_TIMEOUT", "2s")
	t.Setenv("FOCUS_NOTIFY_TIMEOUT", "250ms")
	t.Setenv("FOCUS_NOTIFY_ORIGINS", "localhost, focus.example.com")
	t.Setenv("FOCUS_PLACEHOLDER_URL", "https://focus.example.com/blocked?from=daemon")
	t.Setenv("FOCUS_PRESET_DIR", "/tmp/presets")
	t.Setenv("FOCUS_UNKNOWN_KEY", "ignored")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "/tmp/state.db", cfg.Store.DB)
	assert.Equal(t, "/tmp/rules.db", cfg.Engine.DB)
	assert.Equal(t, 0, cfg.Engine.Cache.Size)
	assert.InDelta(t, 0.001, cfg.Engine.FPRate, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconcile.Interval)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.ApplyTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Notify.Timeout)
	assert.Equal(t, []string{"localhost", "focus.example.com"}, cfg.Notify.Origins)
	assert.Equal(t, "https://focus.example.com/blocked?from=daemon", cfg.Placeholder.URL)
	assert.Equal(t, "/tmp/presets", cfg.Preset.Dir)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"env", "FOCUS_ENV", "staging"},
		{"log level", "FOCUS_LOG_LEVEL", "verbose"},
		{"addr without port", "FOCUS_HTTP_ADDR", "localhost"},
		{"addr port zero", "FOCUS_HTTP_ADDR", ":0"},
		{"addr port NaN", "FOCUS_HTTP_ADDR", ":http"},
		{"state db", "FOCUS_STORE_DB", ""},
		{"negative cache", "FOCUS_ENGINE_CACHE_SIZE", "-1"},
		{"fp rate", "FOCUS_ENGINE_FP_RATE", "1.5"},
		{"interval too short", "FOCUS_RECONCILE_INTERVAL", "10ms"},
		{"interval NaN", "FOCUS_RECONCILE_INTERVAL", "soon"},
		{"placeholder scheme", "FOCUS_PLACEHOLDER_URL", "ftp://example.com/x"},
		{"placeholder relative", "FOCUS_PLACEHOLDER_URL", "/blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_WhenKoanfDefaultLoadFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { defaultLoader = orig }()

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "error loading default config"))
}

func TestLoad_WhenKoanfEnvLoadFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error { return errors.New("mocked error") }
	defer func() { envLoader = orig }()

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "error loading env"))
}

func TestLoad_RegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error { return errors.New("mocked validation error") }
	defer func() { registerValidation = orig }()

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "error registering validation"))
}

func TestDefaultLoader_InvalidDefault_ValidationFails(t *testing.T) {
	orig := DEFAULT_APP_CONFIG
	DEFAULT_APP_CONFIG.Notify.Origins = nil
	defer func() { DEFAULT_APP_CONFIG = orig }()

	_, err := Load()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "validation failed"))
}

func validate(t *testing.T, tag, value string) bool {
	t.Helper()
	v := validator.New()
	require.NoError(t, registerValidation(v))
	return v.Var(value, tag) == nil
}

func TestValidHostPort(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"127.0.0.1:7878", true},
		{":8080", true},
		{"localhost:65535", true},
		{"[::1]:80", true},
		{"localhost", false},
		{":0", false},
		{":65536", false},
		{"host:port", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validate(t, "host_port", tt.in), tt.in)
	}
}

func TestValidURLBase(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"http://127.0.0.1:7878/blocked", true},
		{"https://focus.example.com/b?x=1", true},
		{"https://focus.example.com/b#frag", false},
		{"ftp://example.com", false},
		{"example.com/blocked", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validate(t, "url_base", tt.in), tt.in)
	}
}
