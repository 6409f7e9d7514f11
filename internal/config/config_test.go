package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.SchedulerTick != 5*time.Second {
		t.Errorf("SchedulerTick: got %v", cfg.SchedulerTick)
	}
	if cfg.ActionTimeout != 30*time.Second || cfg.ActionMaxAttempts != 3 || cfg.ActionBackoffBase != time.Second {
		t.Errorf("action defaults: %v %d %v", cfg.ActionTimeout, cfg.ActionMaxAttempts, cfg.ActionBackoffBase)
	}
	if cfg.Storage != "postgres" {
		t.Errorf("Storage: got %q", cfg.Storage)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCHEDULER_TICK", "250ms")
	t.Setenv("ACTION_MAX_ATTEMPTS", "5")
	t.Setenv("ACTION_TIMEOUT", "not-a-duration")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,http://localhost:3000")

	cfg := Load()
	if cfg.SchedulerTick != 250*time.Millisecond {
		t.Errorf("SchedulerTick: got %v", cfg.SchedulerTick)
	}
	if cfg.ActionMaxAttempts != 5 {
		t.Errorf("ActionMaxAttempts: got %d", cfg.ActionMaxAttempts)
	}
	if cfg.ActionTimeout != 30*time.Second {
		t.Errorf("invalid duration should fall back, got %v", cfg.ActionTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example" {
		t.Errorf("CORSAllowedOrigins: got %v", cfg.CORSAllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dev defaults should validate: %v", err)
	}

	cfg.Env = "prod"
	if err := cfg.Validate(); err == nil {
		t.Error("prod with default secret should fail")
	}
	cfg.JWTSecret = "rotated"
	if err := cfg.Validate(); err != nil {
		t.Errorf("prod with custom secret: %v", err)
	}

	cfg.Storage = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown storage should fail")
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := Config{DBHost: "db", DBPort: "5432", DBName: "chaosdb", DBUser: "chaos", DBPass: "p@ss"}
	want := "postgres://chaos:p%40ss@db:5432/chaosdb?sslmode=disable"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL: got %q, want %q", got, want)
	}
}

func TestSlogLevel(t *testing.T) {
	if (Config{LogLevel: "DEBUG"}).SlogLevel() != slog.LevelDebug {
		t.Error("expected debug")
	}
	if (Config{LogLevel: "bogus"}).SlogLevel() != slog.LevelInfo {
		t.Error("expected info fallback")
	}
}
