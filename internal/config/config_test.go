package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NotNil(t, cfg)

	assert.NotEmpty(t, cfg.LogLevel)
	assert.NotEmpty(t, cfg.Environment)
	assert.NotEmpty(t, cfg.Temporal.Host)
	assert.Greater(t, cfg.HTTPPort, 0)
	assert.Greater(t, cfg.MetricsPort, 0)
	assert.Greater(t, cfg.Postgres.MaxConnections, 0)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		t.Setenv("POSTGRES_HOST", "testhost")
		t.Setenv("POSTGRES_PORT", "54321")
		t.Setenv("POSTGRES_USER", "testuser")
		t.Setenv("POSTGRES_PASSWORD", "testpass")
		t.Setenv("POSTGRES_DB", "testdb")

		cfg := Load()
		assert.Equal(t, "testhost", cfg.Postgres.Host)
		assert.Equal(t, 54321, cfg.Postgres.Port)
		assert.Equal(t, "testuser", cfg.Postgres.User)
		assert.Equal(t, "testpass", cfg.Postgres.Password)
		assert.Equal(t, "testdb", cfg.Postgres.Database)
	})

	t.Run("redis", func(t *testing.T) {
		t.Setenv("REDIS_HOST", "redis-test")
		t.Setenv("REDIS_PORT", "6380")

		cfg := Load()
		assert.Equal(t, "redis-test", cfg.Redis.Host)
		assert.Equal(t, 6380, cfg.Redis.Port)
		assert.Equal(t, "redis-test:6380", cfg.Redis.Addr())
	})

	t.Run("temporal", func(t *testing.T) {
		t.Setenv("TEMPORAL_HOST", "temporal:7234")
		t.Setenv("TEMPORAL_NAMESPACE", "test-namespace")

		cfg := Load()
		assert.Equal(t, "temporal:7234", cfg.Temporal.Host)
		assert.Equal(t, "test-namespace", cfg.Temporal.Namespace)
	})

	t.Run("llm service", func(t *testing.T) {
		t.Setenv("LLM_SERVICE_URL", "http://llm.test:9000")
		t.Setenv("LLM_TIMEOUT_SECONDS", "45")

		cfg := Load()
		assert.Equal(t, "http://llm.test:9000", cfg.LLM.BaseURL)
		assert.Equal(t, 45, cfg.LLM.TimeoutSeconds)
	})

	t.Run("log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")

		cfg := Load()
		assert.Equal(t, "debug", cfg.LogLevel)
	})
}

func TestPostgresConnectionString(t *testing.T) {
	pc := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	connStr := pc.ConnectionString()
	require.NotEmpty(t, connStr)
	assert.Contains(t, connStr, "host=localhost")
	assert.Contains(t, connStr, "port=5432")
	assert.Contains(t, connStr, "user=testuser")
	assert.Contains(t, connStr, "dbname=testdb")
	assert.Contains(t, connStr, "sslmode=disable")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "unknown log level",
		},
		{
			name:    "http port out of range",
			mutate:  func(c *Config) { c.HTTPPort = 70000 },
			wantErr: "http port",
		},
		{
			name: "port collision",
			mutate: func(c *Config) {
				c.HTTPPort = 9000
				c.MetricsPort = 9000
			},
			wantErr: "ports collide",
		},
		{
			name: "postgres host without user",
			mutate: func(c *Config) {
				c.Postgres.Host = "db"
				c.Postgres.User = ""
			},
			wantErr: "user or database missing",
		},
		{
			name:    "temporal host required",
			mutate:  func(c *Config) { c.Temporal.Host = "" },
			wantErr: "temporal host",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Run("set", func(t *testing.T) {
		t.Setenv("COORD_TEST_VAR", "explicit")
		assert.Equal(t, "explicit", getEnvOrDefault("COORD_TEST_VAR", "default"))
	})

	t.Run("missing uses default", func(t *testing.T) {
		assert.Equal(t, "default", getEnvOrDefault("COORD_TEST_MISSING", "default"))
	})

	t.Run("set but empty stays empty", func(t *testing.T) {
		t.Setenv("COORD_TEST_EMPTY", "")
		assert.Equal(t, "", getEnvOrDefault("COORD_TEST_EMPTY", "default"))
	})

	t.Run("int parses", func(t *testing.T) {
		t.Setenv("COORD_TEST_INT", "42")
		assert.Equal(t, 42, getEnvOrDefaultInt("COORD_TEST_INT", 7))
	})

	t.Run("int garbage uses default", func(t *testing.T) {
		t.Setenv("COORD_TEST_INT", "forty-two")
		assert.Equal(t, 7, getEnvOrDefaultInt("COORD_TEST_INT", 7))
	})
}
