package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultJWTSecret = "supersecretkey"

type Config struct {
	Port string

	// Storage is "postgres" (default) or "memory". Memory keeps everything in
	// process and is meant for local demos and tests.
	Storage string

	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string

	// DBMaxOpenConns is the maximum number of open connections to the database (default 25).
	DBMaxOpenConns int
	// DBMaxIdleConns is the maximum number of idle connections (default 5).
	DBMaxIdleConns int

	JWTSecret string

	// Env is "dev" (default) or "prod". When "prod", JWT_SECRET must be set and not the default.
	Env string

	// JWTExpireHours is the token lifetime in hours (default 24). Set via JWT_EXPIRE_HOURS.
	JWTExpireHours int

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// LogFormat is "text" (default) or "json". LogLevel is debug, info, warn or error.
	LogFormat string
	LogLevel  string

	// CORSAllowedOrigins is set via CORS_ALLOWED_ORIGINS (comma-separated). Empty means same-origin only.
	CORSAllowedOrigins []string

	// SchedulerTick is how often the scheduler polls for due experiments.
	SchedulerTick time.Duration
	// SchedulerWorkers bounds concurrent dispatches across distinct targets.
	SchedulerWorkers int

	// ActionTimeout bounds one transport attempt; ActionMaxAttempts bounds retries.
	ActionTimeout     time.Duration
	ActionMaxAttempts int
	// ActionBackoffBase is the delay before the second attempt; it doubles after each retry.
	ActionBackoffBase time.Duration
	// ActionRatePerMin limits ad-hoc action requests per operator.
	ActionRatePerMin int

	ProbeTimeout time.Duration

	// RunLogRetryInterval is how often buffered run records are re-written after a persistence failure.
	RunLogRetryInterval time.Duration
	RunLogBufferSize    int

	DockerAPIVersion string
	// SSHKnownHosts is a known_hosts file used to verify servers. Empty disables host key checking.
	SSHKnownHosts string
	// CredentialsFile is a YAML file mapping credential refs to secrets.
	CredentialsFile string
}

func Load() Config {
	return Config{
		Port:    getEnv("PORT", "8080"),
		Storage: getEnv("STORAGE", "postgres"),

		DBHost: getEnv("DB_HOST", "localhost"),
		DBPort: getEnv("DB_PORT", "5432"),
		DBName: getEnv("DB_NAME", "chaosdb"),
		DBUser: getEnv("DB_USER", "chaos"),
		DBPass: getEnv("DB_PASS", "chaos"),

		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),

		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		Env:            getEnv("ENV", "dev"),
		JWTExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),

		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: parseCORSOrigins(getEnv("CORS_ALLOWED_ORIGINS", "")),

		SchedulerTick:    getEnvDuration("SCHEDULER_TICK", 5*time.Second),
		SchedulerWorkers: getEnvInt("SCHEDULER_WORKERS", 8),

		ActionTimeout:     getEnvDuration("ACTION_TIMEOUT", 30*time.Second),
		ActionMaxAttempts: getEnvInt("ACTION_MAX_ATTEMPTS", 3),
		ActionBackoffBase: getEnvDuration("ACTION_BACKOFF_BASE", time.Second),
		ActionRatePerMin:  getEnvInt("ACTION_RATE_PER_MIN", 30),

		ProbeTimeout: getEnvDuration("PROBE_TIMEOUT", 10*time.Second),

		RunLogRetryInterval: getEnvDuration("RUNLOG_RETRY_INTERVAL", 2*time.Second),
		RunLogBufferSize:    getEnvInt("RUNLOG_BUFFER_SIZE", 1024),

		DockerAPIVersion: getEnv("DOCKER_API_VERSION", "1.43"),
		SSHKnownHosts:    getEnv("SSH_KNOWN_HOSTS", ""),
		CredentialsFile:  getEnv("CREDENTIALS_FILE", ""),
	}
}

// Validate rejects configurations that are unsafe or cannot start.
func (c Config) Validate() error {
	if c.Env == "prod" && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return errors.New("JWT_SECRET must be set to a non-default value when ENV=prod")
	}
	if c.Storage != "postgres" && c.Storage != "memory" {
		return fmt.Errorf("STORAGE must be postgres or memory, got %q", c.Storage)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

// DatabaseURL returns a postgres URL for golang-migrate.
func (c Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPass),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// parseCORSOrigins splits a comma-separated list of origins and trims spaces. Empty strings are omitted.
func parseCORSOrigins(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
