package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_RequiresAdminHash(t *testing.T) {
	t.Setenv("HELMBOARD_ADMIN_PASSWORD_HASH", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error without admin password hash")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("HELMBOARD_ADMIN_PASSWORD_HASH", "$2a$10$hash")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Addr != ":8484" {
		t.Errorf("Expected default addr :8484, got %q", cfg.Addr)
	}
	if cfg.CacheTTL != 2*time.Second {
		t.Errorf("Expected default cache TTL 2s, got %v", cfg.CacheTTL)
	}
	if cfg.KillGrace != 5*time.Second {
		t.Errorf("Expected default kill grace 5s, got %v", cfg.KillGrace)
	}
	if cfg.DockerBin != "docker" {
		t.Errorf("Expected default docker binary, got %q", cfg.DockerBin)
	}
	if cfg.DatabasePath != cfg.DataDir+"/helmboard.db" {
		t.Errorf("Expected database under data dir, got %q", cfg.DatabasePath)
	}
	if cfg.HasTOTP() {
		t.Error("Expected TOTP to be off by default")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("HELMBOARD_ADMIN_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("HELMBOARD_ADDR", ":9000")
	t.Setenv("HELMBOARD_CACHE_TTL_MS", "500")
	t.Setenv("HELMBOARD_KILL_GRACE", "10")
	t.Setenv("HELMBOARD_DOCKER_BIN", "podman")
	t.Setenv("HELMBOARD_TOTP_SECRET", "SECRET")
	t.Setenv("HELMBOARD_DB_PATH", "/tmp/x.db")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Expected :9000, got %q", cfg.Addr)
	}
	if cfg.CacheTTL != 500*time.Millisecond {
		t.Errorf("Expected 500ms cache TTL, got %v", cfg.CacheTTL)
	}
	if cfg.KillGrace != 10*time.Second {
		t.Errorf("Expected 10s kill grace, got %v", cfg.KillGrace)
	}
	if cfg.DockerBin != "podman" {
		t.Errorf("Expected podman, got %q", cfg.DockerBin)
	}
	if !cfg.HasTOTP() {
		t.Error("Expected TOTP to be enabled")
	}
	if cfg.DatabasePath != "/tmp/x.db" {
		t.Errorf("Expected explicit database path, got %q", cfg.DatabasePath)
	}
}

func TestLoadFromEnv_EnforcesFloors(t *testing.T) {
	t.Setenv("HELMBOARD_ADMIN_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("HELMBOARD_CACHE_TTL_MS", "50")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for cache TTL below the floor")
	}
}

func TestLoadFromEnv_BadNumbers(t *testing.T) {
	t.Setenv("HELMBOARD_ADMIN_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("HELMBOARD_CACHE_TTL_MS", "soon")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric cache TTL")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminPasswordHash = "$2a$10$hash"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	bad := *cfg
	bad.CacheTTL = 10 * time.Millisecond
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for tiny cache TTL")
	}

	bad = *cfg
	bad.KillGrace = 100 * time.Millisecond
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for tiny kill grace")
	}

	bad = *cfg
	bad.Addr = ""
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for empty addr")
	}
}
