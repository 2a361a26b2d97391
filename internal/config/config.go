// Package config manages server configuration stored in config.json.
package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the name of the configuration file inside the data directory.
const FileName = "config.json"

// Config stores all server-wide configuration.
// Loaded from config.json, created with defaults if missing.
type Config struct {
	// JWTSecret is the secret used to sign API tokens.
	// Auto-generated if empty on first load.
	JWTSecret []byte `json:"jwt_secret"`

	// SessionTTL is the lifetime of an API token.
	SessionTTL Duration `json:"session_ttl"`

	// Timezone is the IANA zone that decides which calendar day "today" is.
	Timezone string `json:"timezone"`

	// Latency is waited before every storage access. 0 disables it.
	Latency Duration `json:"latency"`

	// MaxRequestBodyBytes limits the size of a JSON request body. Roster
	// uploads have their own limit.
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `json:"rate_limits"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// LoginPerMin limits login attempts per client IP. 0 means unlimited.
	LoginPerMin int `json:"login_per_min"`

	// TokenLookupPerMin limits the public token checker per client IP.
	// 0 means unlimited.
	TokenLookupPerMin int `json:"token_lookup_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.LoginPerMin < 0 {
		return errors.New("login_per_min must be non-negative")
	}
	if r.TokenLookupPerMin < 0 {
		return errors.New("token_lookup_per_min must be non-negative")
	}
	return nil
}

// Default returns the configuration written on first start, without a secret.
func Default() Config {
	return Config{
		SessionTTL:          Duration(24 * time.Hour),
		Timezone:            "Asia/Jakarta",
		MaxRequestBodyBytes: 1 << 20,
		RateLimits: RateLimits{
			LoginPerMin:       10,
			TokenLookupPerMin: 30,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("jwt_secret is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.Latency < 0 {
		return errors.New("latency must be non-negative")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("max_request_body_bytes must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// Location returns the configured time zone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from dataDir/config.json.
// Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)

	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	modified := errors.Is(err, os.ErrNotExist)
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.JWTSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		modified = true
	}
	if modified {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save writes the configuration to dataDir/config.json.
func (c *Config) Save(dataDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

// Duration is a time.Duration encoded as a string such as "24h" in JSON.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
