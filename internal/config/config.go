// Package config provides environment-driven configuration for the gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment variables before they become keys,
// so MCP_API_BASE_URL maps to api_base_url.
const envPrefix = "MCP_"

// Config holds process-wide settings. It is immutable after Load.
type Config struct {
	// Ticket REST backend.
	APIBaseURL     string
	APIKey         string
	BackendTimeout time.Duration

	// Gateway authentication.
	MCPAPIKey    string
	AuthProvider string

	// Transport selection: "sse" or "streamable_http". Both endpoint sets
	// are always served; this selects what the root endpoint advertises.
	TransportType string

	// Listener.
	Host string
	Port int

	// Session and stream lifecycle.
	SessionMaxAge       time.Duration
	LegacySessionMaxAge time.Duration
	StreamTimeout       time.Duration

	// Origin allow-list for DNS-rebinding protection, plus the public URL
	// used by the OAuth discovery stubs.
	AllowedOrigins []string
	PublicURL      string

	// Logging and environment.
	LogLevel  string
	NodeEnv   string
	CloudMode bool
}

// Default returns the configuration used when no environment is set,
// mirroring the defaults of the original deployment.
func Default() *Config {
	return &Config{
		APIBaseURL:          "http://localhost:8080",
		BackendTimeout:      30 * time.Second,
		AuthProvider:        "api_key",
		TransportType:       "streamable_http",
		Host:                "0.0.0.0",
		Port:                8080,
		SessionMaxAge:       30 * time.Minute,
		LegacySessionMaxAge: 15 * time.Minute,
		StreamTimeout:       840 * time.Second,
		LogLevel:            "info",
		NodeEnv:             "development",
	}
}

// Load builds a Config from MCP_-prefixed environment variables layered on
// top of Default.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	setString(k, "api_base_url", &cfg.APIBaseURL)
	setString(k, "api_key", &cfg.APIKey)
	setString(k, "mcp_api_key", &cfg.MCPAPIKey)
	setString(k, "auth_provider", &cfg.AuthProvider)
	setString(k, "transport_type", &cfg.TransportType)
	setString(k, "host", &cfg.Host)
	setString(k, "log_level", &cfg.LogLevel)
	setString(k, "node_env", &cfg.NodeEnv)
	setString(k, "public_url", &cfg.PublicURL)
	if k.Exists("port") {
		cfg.Port = k.Int("port")
	}
	if k.Exists("cloud_mode") {
		cfg.CloudMode = k.Bool("cloud_mode")
	}
	if err := setDuration(k, "backend_timeout", &cfg.BackendTimeout); err != nil {
		return nil, err
	}
	if err := setDuration(k, "session_max_age", &cfg.SessionMaxAge); err != nil {
		return nil, err
	}
	if err := setDuration(k, "legacy_session_max_age", &cfg.LegacySessionMaxAge); err != nil {
		return nil, err
	}
	if err := setDuration(k, "stream_timeout", &cfg.StreamTimeout); err != nil {
		return nil, err
	}
	if k.Exists("allowed_origins") {
		for _, origin := range strings.Split(k.String("allowed_origins"), ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	} else {
		cfg.AllowedOrigins = DefaultAllowedOrigins(cfg.PublicURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultAllowedOrigins lists the inspector origins permitted out of the box,
// plus the deployed public URL when known.
func DefaultAllowedOrigins(publicURL string) []string {
	origins := make([]string, 0, 9)
	for _, scheme := range []string{"http", "https"} {
		for _, host := range []string{"127.0.0.1", "localhost"} {
			for _, port := range []string{"6274", "6277"} {
				origins = append(origins, fmt.Sprintf("%s://%s:%s", scheme, host, port))
			}
		}
	}
	if publicURL != "" {
		origins = append(origins, strings.TrimSuffix(publicURL, "/"))
	}
	return origins
}

// Validate rejects configurations that cannot serve traffic.
func (c *Config) Validate() error {
	switch c.AuthProvider {
	case "api_key", "none", "oauth":
	default:
		return fmt.Errorf("unsupported auth provider: %q", c.AuthProvider)
	}
	switch c.TransportType {
	case "sse", "streamable_http":
	default:
		return fmt.Errorf("unsupported transport type: %q", c.TransportType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setString(k *koanf.Koanf, key string, dst *string) {
	if k.Exists(key) {
		*dst = k.String(key)
	}
}

// setDuration accepts either a Go duration string ("30m") or a bare number
// of seconds, as the original deployment configured timeouts in seconds.
func setDuration(k *koanf.Koanf, key string, dst *time.Duration) error {
	if !k.Exists(key) {
		return nil
	}
	raw := k.String(key)
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
		return nil
	}
	var seconds int
	if _, err := fmt.Sscanf(raw, "%d", &seconds); err != nil || seconds <= 0 {
		return fmt.Errorf("invalid duration for %s: %q", key, raw)
	}
	*dst = time.Duration(seconds) * time.Second
	return nil
}
