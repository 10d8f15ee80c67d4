package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %q", cfg.Server.Addr)
	}
	if cfg.Quota.FreeLimit != 2 || cfg.Quota.TrialLimit != 2 {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.Identity.TokenTTL != 90*24*time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.Identity.TokenTTL)
	}
	if cfg.Breaker.QueueDepthThreshold != 500 || cfg.Breaker.SuccessThreshold != 3 {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Production() {
		t.Fatal("default env must not be production")
	}
}

func TestYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  addr: \":9999\"\nquota:\n  free_limit: 5\nenv: production\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("METAGATE_ADDR", ":7777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Fatalf("env must override file, got %q", cfg.Server.Addr)
	}
	if cfg.Quota.FreeLimit != 5 {
		t.Fatalf("file value lost: %d", cfg.Quota.FreeLimit)
	}
	if !cfg.Production() {
		t.Fatal("expected production env")
	}
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingDeviceSecret) {
		t.Fatalf("expected ErrMissingDeviceSecret, got %v", err)
	}

	cfg.Identity.Secret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
