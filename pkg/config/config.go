// Package config loads application configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/observability"
	"github.com/knowledgeops/stacks/pkg/storage"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Postgres      storage.PostgresConfig
	Redis         storage.RedisConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes and scraping).
	HealthPort string
}

// AuthConfig holds session and login configuration.
type AuthConfig struct {
	SessionTTL   time.Duration
	ReauthWindow time.Duration

	// RootPassword enables the local root login when set. Required in
	// deployments without an OIDC provider.
	RootPassword string

	// CapabilityOverridesPath points at the optional JSON file of
	// role capability overrides, hot-reloaded on change.
	CapabilityOverridesPath string

	OIDC auth.OIDCConfig
}

// AuditConfig holds audit sink configuration.
type AuditConfig struct {
	// Enabled turns on the database sink; otherwise decisions go to
	// the no-op sink.
	Enabled bool

	// RetentionMaxAge bounds how long decision rows are kept; zero
	// disables purging.
	RetentionMaxAge time.Duration
}

// ObservabilityConfig holds logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	LogLevel observability.LogLevel
	OTel     observability.OTelConfig
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	pg := storage.DefaultPostgresConfig()
	pg.URL = getEnv("STACKS_POSTGRES_URL", "")
	if maxConns := getEnvInt("STACKS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		pg.MaxOpenConns = maxConns
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("STACKS_HOST", "0.0.0.0"),
			Port:            getEnv("STACKS_PORT", "8080"),
			ReadTimeout:     getEnvDuration("STACKS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("STACKS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("STACKS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("STACKS_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("STACKS_HEALTH_PORT", "9090"),
		},
		Postgres: pg,
		Redis: storage.RedisConfig{
			URL:      getEnv("STACKS_REDIS_URL", "redis://localhost:6379/0"),
			Password: getEnv("STACKS_REDIS_PASSWORD", ""),
			DB:       getEnvInt("STACKS_REDIS_DB", -1),
			PoolSize: getEnvInt("STACKS_REDIS_POOL_SIZE", 0),
		},
		Auth: AuthConfig{
			SessionTTL:              getEnvDuration("STACKS_SESSION_TTL", 24*time.Hour),
			ReauthWindow:            getEnvDuration("STACKS_REAUTH_WINDOW", 15*time.Minute),
			RootPassword:            getEnv("STACKS_ROOT_PASSWORD", ""),
			CapabilityOverridesPath: getEnv("STACKS_CAPABILITY_OVERRIDES", ""),
			OIDC: auth.OIDCConfig{
				IssuerURL:    getEnv("STACKS_OIDC_ISSUER", ""),
				ClientID:     getEnv("STACKS_OIDC_CLIENT_ID", ""),
				ClientSecret: getEnv("STACKS_OIDC_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("STACKS_OIDC_REDIRECT_URL", ""),
			},
		},
		Audit: AuditConfig{
			Enabled:         getEnvBool("STACKS_AUDIT_ENABLED", true),
			RetentionMaxAge: getEnvDuration("STACKS_AUDIT_RETENTION", 90*24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel: observability.ParseLogLevel(getEnv("STACKS_LOG_LEVEL", "info")),
			OTel: observability.OTelConfig{
				Enabled:        getEnvBool("STACKS_OTEL_ENABLED", false),
				Endpoint:       getEnv("STACKS_OTEL_ENDPOINT", "localhost:4317"),
				ServiceName:    getEnv("STACKS_OTEL_SERVICE_NAME", "stacks"),
				ServiceVersion: getEnv("STACKS_OTEL_SERVICE_VERSION", "dev"),
				Insecure:       getEnvBool("STACKS_OTEL_INSECURE", true),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Postgres.URL == "" {
		return fmt.Errorf("STACKS_POSTGRES_URL is required")
	}
	if c.Auth.RootPassword == "" && !c.Auth.OIDC.Enabled() {
		return fmt.Errorf("either STACKS_ROOT_PASSWORD or an OIDC issuer must be configured")
	}
	if c.Auth.OIDC.Enabled() {
		if c.Auth.OIDC.ClientID == "" || c.Auth.OIDC.RedirectURL == "" {
			return fmt.Errorf("OIDC login requires STACKS_OIDC_CLIENT_ID and STACKS_OIDC_REDIRECT_URL")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
