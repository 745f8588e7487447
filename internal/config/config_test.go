package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative port", func(c *Config) { c.Port = -1 }, "port"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.Host = " " }, "host"},
		{"ws path without slash", func(c *Config) { c.WebSocketPath = "ws" }, "websocket_path"},
		{"heartbeat too low", func(c *Config) { c.HeartbeatIntervalMs = 999 }, "heartbeat_interval_ms"},
		{"connection timeout too low", func(c *Config) { c.ConnectionTimeoutMs = 500 }, "connection_timeout_ms"},
		{"max connections zero", func(c *Config) { c.MaxConnections = 0 }, "max_connections"},
		{"session max age too low", func(c *Config) { c.SessionMaxAgeMs = 59999 }, "session_max_age_ms"},
		{"nil cors origins", func(c *Config) { c.CORSAllowedOrigins = nil }, "cors_allowed_origins"},
		{"rate window too low", func(c *Config) { c.RateLimitWindowMs = 999 }, "rate_limit_window_ms"},
		{"rate max zero", func(c *Config) { c.RateLimitMaxRequests = 0 }, "rate_limit_max_requests"},
		{"edit session age too low", func(c *Config) { c.EditSessionMaxAgeMs = 999 }, "edit_session_max_age_ms"},
		{"cleanup interval too low", func(c *Config) { c.CleanupIntervalMs = 999 }, "cleanup_interval_ms"},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, "environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDefaultSecretRejectedInProduction(t *testing.T) {
	cfg := Default()
	cfg.Environment = "production"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_secret")

	cfg.SessionSecret = "something-operator-chose"
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"port": 9100, "max_connections": 7, "cors_allowed_origins": ["https://example.com"]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 7, cfg.MaxConnections)
	assert.Equal(t, []string{"https://example.com"}, cfg.CORSAllowedOrigins)
	// Untouched fields keep their defaults.
	assert.Equal(t, "/ws", cfg.WebSocketPath)
}

func TestLoadMissingNamedFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadInvalidFileFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 99999}`), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SNIPBRIDGE_PORT", "9200")
	t.Setenv("SNIPBRIDGE_HOST", "0.0.0.0")
	t.Setenv("SNIPBRIDGE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SNIPBRIDGE_RATE_LIMIT_MAX_REQUESTS", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 9, cfg.RateLimitMaxRequests)
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("SNIPBRIDGE_PORT", "eighty")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNIPBRIDGE_PORT")
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.Host = "10.1.2.3"
	cfg.Port = 9000
	assert.Equal(t, "10.1.2.3:9000", cfg.Addr())
}
