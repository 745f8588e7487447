package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultSessionSecret is the secret shipped in the example config. The
// validator refuses it in a production environment.
const DefaultSessionSecret = "snipbridge-dev-secret"

// Config represents the relay server configuration
type Config struct {
	Port                 int      `json:"port"`
	Host                 string   `json:"host"`
	WebSocketPath        string   `json:"websocket_path"`
	HeartbeatIntervalMs  int      `json:"heartbeat_interval_ms"`
	ConnectionTimeoutMs  int      `json:"connection_timeout_ms"`
	MaxConnections       int      `json:"max_connections"`
	SessionSecret        string   `json:"session_secret"`
	SessionMaxAgeMs      int      `json:"session_max_age_ms"`
	CORSAllowedOrigins   []string `json:"cors_allowed_origins"`
	RateLimitWindowMs    int      `json:"rate_limit_window_ms"`
	RateLimitMaxRequests int      `json:"rate_limit_max_requests"`
	EditSessionMaxAgeMs  int      `json:"edit_session_max_age_ms"`
	CleanupIntervalMs    int      `json:"cleanup_interval_ms"`
	Environment          string   `json:"environment"`
	LogLevel             string   `json:"log_level"`
	LogPath              string   `json:"log_path"`
}

// Default returns a configuration populated with development defaults
func Default() *Config {
	return &Config{
		Port:                 8937,
		Host:                 "127.0.0.1",
		WebSocketPath:        "/ws",
		HeartbeatIntervalMs:  30000,
		ConnectionTimeoutMs:  30000,
		MaxConnections:       512,
		SessionSecret:        DefaultSessionSecret,
		SessionMaxAgeMs:      86400000,
		CORSAllowedOrigins:   []string{"*"},
		RateLimitWindowMs:    60000,
		RateLimitMaxRequests: 120,
		EditSessionMaxAgeMs:  1800000,
		CleanupIntervalMs:    60000,
		Environment:          "development",
		LogLevel:             "info",
	}
}

// Load reads configuration from an optional JSON file, applies environment
// overrides, and validates the result. A missing file with an empty path is
// fine; a named file that cannot be read or parsed is a startup error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	intVars := map[string]*int{
		"SNIPBRIDGE_PORT":                    &c.Port,
		"SNIPBRIDGE_HEARTBEAT_INTERVAL_MS":   &c.HeartbeatIntervalMs,
		"SNIPBRIDGE_CONNECTION_TIMEOUT_MS":   &c.ConnectionTimeoutMs,
		"SNIPBRIDGE_MAX_CONNECTIONS":         &c.MaxConnections,
		"SNIPBRIDGE_SESSION_MAX_AGE_MS":      &c.SessionMaxAgeMs,
		"SNIPBRIDGE_RATE_LIMIT_WINDOW_MS":    &c.RateLimitWindowMs,
		"SNIPBRIDGE_RATE_LIMIT_MAX_REQUESTS": &c.RateLimitMaxRequests,
		"SNIPBRIDGE_EDIT_SESSION_MAX_AGE_MS": &c.EditSessionMaxAgeMs,
		"SNIPBRIDGE_CLEANUP_INTERVAL_MS":     &c.CleanupIntervalMs,
	}
	for name, dst := range intVars {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %q is not an integer", name, value)
		}
		*dst = parsed
	}

	stringVars := map[string]*string{
		"SNIPBRIDGE_HOST":           &c.Host,
		"SNIPBRIDGE_WS_PATH":        &c.WebSocketPath,
		"SNIPBRIDGE_SESSION_SECRET": &c.SessionSecret,
		"SNIPBRIDGE_ENV":            &c.Environment,
		"SNIPBRIDGE_LOG_LEVEL":      &c.LogLevel,
		"SNIPBRIDGE_LOG_PATH":       &c.LogPath,
	}
	for name, dst := range stringVars {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			*dst = value
		}
	}

	if value := strings.TrimSpace(os.Getenv("SNIPBRIDGE_CORS_ALLOWED_ORIGINS")); value != "" {
		origins := strings.Split(value, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.CORSAllowedOrigins = origins
	}

	return nil
}

// Validate checks every configuration bound and fails fast on the first
// violation. Bounds are never clamped silently.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("host must not be empty")
	}
	if !strings.HasPrefix(c.WebSocketPath, "/") {
		return fmt.Errorf("websocket_path must start with '/', got %q", c.WebSocketPath)
	}
	if c.HeartbeatIntervalMs < 1000 {
		return fmt.Errorf("heartbeat_interval_ms must be at least 1000, got %d", c.HeartbeatIntervalMs)
	}
	if c.ConnectionTimeoutMs < 1000 {
		return fmt.Errorf("connection_timeout_ms must be at least 1000, got %d", c.ConnectionTimeoutMs)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	}
	if c.SessionMaxAgeMs < 60000 {
		return fmt.Errorf("session_max_age_ms must be at least 60000, got %d", c.SessionMaxAgeMs)
	}
	if c.CORSAllowedOrigins == nil {
		return fmt.Errorf("cors_allowed_origins must be a list")
	}
	if c.RateLimitWindowMs < 1000 {
		return fmt.Errorf("rate_limit_window_ms must be at least 1000, got %d", c.RateLimitWindowMs)
	}
	if c.RateLimitMaxRequests < 1 {
		return fmt.Errorf("rate_limit_max_requests must be at least 1, got %d", c.RateLimitMaxRequests)
	}
	if c.EditSessionMaxAgeMs < 1000 {
		return fmt.Errorf("edit_session_max_age_ms must be at least 1000, got %d", c.EditSessionMaxAgeMs)
	}
	if c.CleanupIntervalMs < 1000 {
		return fmt.Errorf("cleanup_interval_ms must be at least 1000, got %d", c.CleanupIntervalMs)
	}
	switch c.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("environment must be development or production, got %q", c.Environment)
	}
	if c.Environment == "production" && c.SessionSecret == DefaultSessionSecret {
		return fmt.Errorf("session_secret must be changed from the default in a production environment")
	}
	return nil
}

// Addr returns the host:port listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
