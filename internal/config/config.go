// Package config holds the coordinator's two configuration surfaces:
// environment variables for service wiring (what the process connects to)
// and a YAML tunables file, coordinator.yaml, for behavior knobs. Wiring
// is read once at startup; the tunable subset hot-reloads through Manager.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the env-driven wiring surface: addresses, ports and pool
// sizes. Behavior knobs live in CoordinatorConfig.
type Config struct {
	Environment string
	LogLevel    string
	HTTPPort    int
	MetricsPort int

	// ConfigDir is where coordinator.yaml and retry_policies.yaml live.
	ConfigDir string
	// RetryPoliciesPath overrides the default {ConfigDir}/retry_policies.yaml.
	RetryPoliciesPath string

	Postgres PostgresConfig
	Redis    RedisConfig
	Temporal TemporalConfig
	LLM      LLMConfig
}

// PostgresConfig carries connection settings for the tracking database.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
}

// ConnectionString renders the keyword/value DSN lib/pq expects.
func (c PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig carries connection settings shared by the coordination
// service and the analysis state manager.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr renders the host:port form the redis clients take.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TemporalConfig carries the Temporal server endpoint. Host includes the
// port, matching the SDK's HostPort option.
type TemporalConfig struct {
	Host      string
	Namespace string
}

// LLMConfig carries the agent LLM service endpoint.
type LLMConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// Load reads the wiring config from the environment. Every field has a
// default, so Load never fails; Validate catches combinations that cannot
// work.
func Load() *Config {
	return &Config{
		Environment:       getEnvOrDefault("ENVIRONMENT", "development"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort:          getEnvOrDefaultInt("HTTP_PORT", 8081),
		MetricsPort:       getEnvOrDefaultInt("METRICS_PORT", 2112),
		ConfigDir:         getEnvOrDefault("CONFIG_DIR", "/app/config"),
		RetryPoliciesPath: os.Getenv("RETRY_POLICIES_PATH"),
		Postgres: PostgresConfig{
			Host:            getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:            getEnvOrDefaultInt("POSTGRES_PORT", 5432),
			User:            getEnvOrDefault("POSTGRES_USER", "prsnl"),
			Password:        getEnvOrDefault("POSTGRES_PASSWORD", ""),
			Database:        getEnvOrDefault("POSTGRES_DB", "prsnl"),
			SSLMode:         getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
			MaxConnections:  getEnvOrDefaultInt("POSTGRES_MAX_CONNS", 25),
			IdleConnections: getEnvOrDefaultInt("POSTGRES_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefaultInt("REDIS_PORT", 6379),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvOrDefaultInt("REDIS_DB", 0),
		},
		Temporal: TemporalConfig{
			Host:      getEnvOrDefault("TEMPORAL_HOST", "localhost:7233"),
			Namespace: getEnvOrDefault("TEMPORAL_NAMESPACE", "default"),
		},
		LLM: LLMConfig{
			BaseURL:        getEnvOrDefault("LLM_SERVICE_URL", "http://llm-service:8000"),
			TimeoutSeconds: getEnvOrDefaultInt("LLM_TIMEOUT_SECONDS", 120),
		},
	}
}

// Validate rejects wiring that cannot produce a working process.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: http port %d out of range", c.HTTPPort)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("config: metrics port %d out of range", c.MetricsPort)
	}
	if c.HTTPPort == c.MetricsPort {
		return fmt.Errorf("config: http and metrics ports collide on %d", c.HTTPPort)
	}
	if c.Postgres.Host != "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			return fmt.Errorf("config: postgres port %d out of range", c.Postgres.Port)
		}
		if c.Postgres.User == "" || c.Postgres.Database == "" {
			return fmt.Errorf("config: postgres host set but user or database missing")
		}
	}
	if c.Temporal.Host == "" {
		return fmt.Errorf("config: temporal host required")
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvOrDefaultInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
