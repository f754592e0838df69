package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "secret")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "souldream.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.GoogleCalendarID != "primary" {
		t.Fatalf("unexpected calendar id %q", cfg.GoogleCalendarID)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if cfg.SyncRemoteTimeout != 30*time.Second {
		t.Fatalf("unexpected sync timeout %s", cfg.SyncRemoteTimeout)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	v := NewViper()
	if _, err := Load(v); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
}

func TestLoadRejectsNonPositiveTimeout(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "secret")
	v.Set("sync.remote_timeout_seconds", 0)
	if _, err := Load(v); err == nil {
		t.Fatalf("expected zero timeout to fail")
	}
}

func TestLoadOverridesFromValues(t *testing.T) {
	v := NewViper()
	v.Set("auth.signing_secret", "secret")
	v.Set("http.address", "127.0.0.1:9999")
	v.Set("token.ttl_minutes", 5)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.TokenTTL != 5*time.Minute {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
}
