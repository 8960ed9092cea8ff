// Package config handles server configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// HTTP
	Addr string // listen address, e.g. ":8484"

	// Storage
	DataDir      string // base directory for logs and state
	DatabasePath string // sqlite database path

	// Auth
	AdminPasswordHash  string // bcrypt hash for the admin user
	ViewerPasswordHash string // bcrypt hash for the viewer user (optional)
	TOTPSecret         string // TOTP secret for admin logins (optional)
	SessionTTL         time.Duration

	// Streaming
	CacheTTL time.Duration // delta cache freshness window

	// Operations
	DockerBin string        // container CLI binary
	KillGrace time.Duration // SIGKILL escalation delay after a cancel

	// Logging
	LogLevel string
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Addr:       ":8484",
		DataDir:    "/var/lib/helmboard",
		SessionTTL: 24 * time.Hour,
		CacheTTL:   2 * time.Second,
		DockerBin:  "docker",
		KillGrace:  5 * time.Second,
		LogLevel:   "info",
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if addr := os.Getenv("HELMBOARD_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if dir := os.Getenv("HELMBOARD_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	// Required
	cfg.AdminPasswordHash = os.Getenv("HELMBOARD_ADMIN_PASSWORD_HASH")
	if cfg.AdminPasswordHash == "" {
		return nil, errors.New("HELMBOARD_ADMIN_PASSWORD_HASH is required")
	}

	// Optional
	cfg.ViewerPasswordHash = os.Getenv("HELMBOARD_VIEWER_PASSWORD_HASH")
	cfg.TOTPSecret = os.Getenv("HELMBOARD_TOTP_SECRET")

	if ttl := os.Getenv("HELMBOARD_CACHE_TTL_MS"); ttl != "" {
		ms, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, errors.New("HELMBOARD_CACHE_TTL_MS must be a number (milliseconds)")
		}
		cfg.CacheTTL = time.Duration(ms) * time.Millisecond
	}

	if grace := os.Getenv("HELMBOARD_KILL_GRACE"); grace != "" {
		seconds, err := strconv.Atoi(grace)
		if err != nil {
			return nil, errors.New("HELMBOARD_KILL_GRACE must be a number (seconds)")
		}
		cfg.KillGrace = time.Duration(seconds) * time.Second
	}

	if bin := os.Getenv("HELMBOARD_DOCKER_BIN"); bin != "" {
		cfg.DockerBin = bin
	}

	if level := os.Getenv("HELMBOARD_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = cfg.DataDir + "/helmboard.db"
	}
	if path := os.Getenv("HELMBOARD_DB_PATH"); path != "" {
		cfg.DatabasePath = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// HasTOTP reports whether admin logins require a TOTP code.
func (c *Config) HasTOTP() bool {
	return c.TOTPSecret != ""
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.AdminPasswordHash == "" {
		return errors.New("admin password hash is required")
	}
	if c.CacheTTL < 100*time.Millisecond {
		return errors.New("cache TTL must be at least 100ms")
	}
	if c.KillGrace < time.Second {
		return errors.New("kill grace must be at least 1 second")
	}
	return nil
}
