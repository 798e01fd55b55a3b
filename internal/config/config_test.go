package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Debounce != 2*time.Second || cfg.MaxDebounce != 10*time.Second {
		t.Fatalf("unexpected debounce defaults: quiet=%s max=%s", cfg.Debounce, cfg.MaxDebounce)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("server port = %s, want 8080", cfg.ServerPort)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail without JWT_SECRET")
	}
}

func TestLoadRejectsInvertedDebounce(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("COLLAB_DEBOUNCE_MS", "5000")
	t.Setenv("COLLAB_MAX_DEBOUNCE_MS", "1000")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail when the max window undercuts the quiet window")
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "momo", DBSSLMode: "disable"}
	want := "host=db port=5432 user=u password=p dbname=momo sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Fatalf("DatabaseURL() = %q, want %q", got, want)
	}
}
