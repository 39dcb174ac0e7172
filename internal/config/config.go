// Package config loads and validates the adapter's configuration from the
// environment. A Config is built once at startup and never mutated; changing
// any value means building a new Config and a new client from it.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Auth strategy names as they appear in the AUTH_TYPE variable.
const (
	AuthNone  = "NONE"
	AuthBasic = "BASIC"
	AuthOAuth = "OAUTH"
)

// ConfigError reports an invalid or unreachable configuration. It is meant
// for the administrator, not for control flow.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// Config holds all environment-based configuration for the REST backend
// adapter. Timeouts are in milliseconds to match the upstream property
// surface; use the *Timeout() accessors for time.Duration values.
type Config struct {
	// Base URL of the identity API. Required.
	BaseURL string `env:"BASE_URL"`

	// Maximum pooled HTTP connections to the backend.
	MaxConnections int `env:"MAX_HTTP_CONNECTIONS" envDefault:"5"`

	// Authorization strategy for secured calls: NONE, BASIC or OAUTH.
	AuthType string `env:"AUTH_TYPE" envDefault:"NONE"`

	// Static credentials, required when AuthType is BASIC.
	BasicUsername string `env:"BASIC_USERNAME"`
	BasicPassword string `env:"BASIC_PASSWORD"`

	// Client-credentials grant settings, required when AuthType is OAUTH.
	OAuthClientID      string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret  string `env:"OAUTH_CLIENT_SECRET"`
	OAuthScope         string `env:"OAUTH_SCOPE"`
	OAuthTokenEndpoint string `env:"OAUTH_TOKEN_ENDPOINT"`

	// Per-call timeouts, milliseconds.
	SocketTimeoutMillis      int `env:"API_SOCKET_TIMEOUT" envDefault:"5000"`
	ConnectTimeoutMillis     int `env:"API_CONNECT_TIMEOUT" envDefault:"1000"`
	AcquisitionTimeoutMillis int `env:"API_CONNECTION_REQUEST_TIMEOUT" envDefault:"1000"`

	// Interval between pool-statistics log lines, seconds. 0 disables the
	// reporter.
	StatsIntervalSeconds int `env:"HTTP_STATS_INTERVAL" envDefault:"0"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
// Non-numeric values in integer fields fail here rather than defaulting.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// The upstream API treats "http://host/" and "http://host" as the same
	// base; paths are always joined with a leading slash.
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return &ConfigError{Reason: "BASE_URL is not specified"}
	}

	if c.MaxConnections < 0 {
		return &ConfigError{Reason: "MAX_HTTP_CONNECTIONS must be a non-negative number"}
	}

	switch c.AuthType {
	case AuthNone:
	case AuthBasic:
		if c.BasicUsername == "" || c.BasicPassword == "" {
			return &ConfigError{Reason: "BASIC_USERNAME and BASIC_PASSWORD are required for BASIC authorization"}
		}
	case AuthOAuth:
		oauthFields := []struct {
			name  string
			value string
		}{
			{"OAUTH_CLIENT_ID", c.OAuthClientID},
			{"OAUTH_CLIENT_SECRET", c.OAuthClientSecret},
			{"OAUTH_SCOPE", c.OAuthScope},
			{"OAUTH_TOKEN_ENDPOINT", c.OAuthTokenEndpoint},
		}
		for _, f := range oauthFields {
			if f.value == "" {
				return &ConfigError{Reason: f.name + " is required for OAUTH authorization"}
			}
		}
	default:
		return &ConfigError{Reason: fmt.Sprintf("AUTH_TYPE %q is not one of NONE, BASIC, OAUTH", c.AuthType)}
	}

	return nil
}

// Validate performs the full administrator-facing check: structural
// validation plus best-effort reachability probes of the base URL and, for
// OAUTH, the token endpoint. Intended for config screens and the validate
// subcommand, never for the request path.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}

	if err := CheckReachable(c.BaseURL, c.ConnectTimeout()); err != nil {
		return &ConfigError{Reason: fmt.Sprintf("error accessing the base url: %v", err)}
	}

	if c.AuthType == AuthOAuth {
		if err := CheckReachable(c.OAuthTokenEndpoint, c.ConnectTimeout()); err != nil {
			return &ConfigError{Reason: fmt.Sprintf("error accessing the token endpoint: %v", err)}
		}
	}

	return nil
}

// CheckReachable opens and immediately closes a TCP connection to the URL's
// host. It proves only that something is listening, which is all the config
// screen needs.
func CheckReachable(rawurl string, timeout time.Duration) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawurl)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(u.Hostname(), port), timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

// SocketTimeout is the per-call read timeout.
func (c *Config) SocketTimeout() time.Duration {
	return time.Duration(c.SocketTimeoutMillis) * time.Millisecond
}

// ConnectTimeout is the TCP/TLS connection establishment timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMillis) * time.Millisecond
}

// AcquisitionTimeout bounds waiting for a free pooled connection.
func (c *Config) AcquisitionTimeout() time.Duration {
	return time.Duration(c.AcquisitionTimeoutMillis) * time.Millisecond
}

// StatsInterval is the pool-statistics reporting period; zero disables it.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}
