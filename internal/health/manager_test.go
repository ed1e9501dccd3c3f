package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func staticChecker(name string, critical bool, status CheckStatus) *CustomHealthChecker {
	return NewCustomHealthChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status, Message: name}
	})
}

func TestManagerRollup(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus CheckStatus
		wantReady  bool
	}{
		{
			name: "all healthy",
			checkers: []Checker{
				staticChecker("redis", true, StatusHealthy),
				staticChecker("database", true, StatusHealthy),
			},
			wantStatus: StatusHealthy,
			wantReady:  true,
		},
		{
			name: "critical failure is unhealthy and not ready",
			checkers: []Checker{
				staticChecker("redis", true, StatusUnhealthy),
				staticChecker("llm_service", false, StatusHealthy),
			},
			wantStatus: StatusUnhealthy,
			wantReady:  false,
		},
		{
			name: "non-critical failure only degrades",
			checkers: []Checker{
				staticChecker("redis", true, StatusHealthy),
				staticChecker("llm_service", false, StatusUnhealthy),
			},
			wantStatus: StatusDegraded,
			wantReady:  true,
		},
		{
			name: "degraded component degrades the rollup",
			checkers: []Checker{
				staticChecker("redis", true, StatusDegraded),
				staticChecker("database", true, StatusHealthy),
			},
			wantStatus: StatusDegraded,
			wantReady:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}

			overall := m.GetOverallHealth(context.Background())
			assert.Equal(t, tt.wantStatus, overall.Status)
			assert.Equal(t, tt.wantReady, overall.Ready)
			assert.True(t, overall.Live)
		})
	}
}

func TestManagerNoCheckers(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	overall := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusUnknown, overall.Status)
	assert.False(t, overall.Ready)
	assert.False(t, overall.Live)
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("redis", true, StatusHealthy)))

	err := m.RegisterChecker(staticChecker("redis", true, StatusHealthy))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestManagerConfigOverrides(t *testing.T) {
	cfg := &HealthConfiguration{
		Enabled:       true,
		CheckInterval: time.Minute,
		GlobalTimeout: 5 * time.Second,
		Checks: map[string]CheckConfig{
			"llm_service": {Enabled: false},
			"database":    {Enabled: true, Critical: false, Timeout: time.Second},
		},
	}
	m := NewManagerWithConfig(cfg, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("llm_service", false, StatusHealthy)))
	require.NoError(t, m.RegisterChecker(staticChecker("database", true, StatusUnhealthy)))
	require.NoError(t, m.RegisterChecker(staticChecker("redis", true, StatusHealthy)))

	detailed := m.GetDetailedHealth(context.Background())

	// Disabled checkers are excluded from the report entirely.
	assert.NotContains(t, detailed.Components, "llm_service")
	assert.Equal(t, 2, detailed.Summary.Total)

	// The database checker was demoted to non-critical, so its failure
	// only degrades the rollup.
	assert.Equal(t, StatusDegraded, detailed.Overall.Status)
	assert.True(t, detailed.Overall.Ready)
	assert.False(t, detailed.Components["database"].Critical)
}

func TestManagerCachedHealth(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	status := StatusHealthy
	checker := NewCustomHealthChecker("redis", true, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	})
	require.NoError(t, m.RegisterChecker(checker))

	// Nothing cached before the first sweep.
	cached := m.GetCachedHealth()
	assert.Equal(t, StatusUnknown, cached.Overall.Status)

	m.GetDetailedHealth(context.Background())
	status = StatusUnhealthy

	// The cached view still reflects the sweep, not the new state.
	cached = m.GetCachedHealth()
	assert.Equal(t, StatusHealthy, cached.Overall.Status)
	assert.Contains(t, cached.Components, "redis")
}

func TestManagerAppliesCheckTimeout(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	blocker := NewCustomHealthChecker("slow", true, 50*time.Millisecond, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})
	require.NoError(t, m.RegisterChecker(blocker))

	start := time.Now()
	detailed := m.GetDetailedHealth(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusUnhealthy, detailed.Overall.Status)
}

func TestManagerBackgroundSweep(t *testing.T) {
	cfg := &HealthConfiguration{
		Enabled:       true,
		CheckInterval: 20 * time.Millisecond,
		GlobalTimeout: time.Second,
	}
	m := NewManagerWithConfig(cfg, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("redis", true, StatusHealthy)))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return len(m.GetLastResults()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerDisabledSkipsBackground(t *testing.T) {
	cfg := &HealthConfiguration{
		Enabled:       false,
		CheckInterval: 10 * time.Millisecond,
	}
	m := NewManagerWithConfig(cfg, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("redis", true, StatusHealthy)))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, m.GetLastResults())

	// On-demand checks still run.
	assert.True(t, m.IsReady(context.Background()))
}
