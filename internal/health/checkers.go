package health

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
)

// RedisHealthChecker probes the breaker-wrapped Redis client that backs
// analysis state.
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker over the state
// manager's wrapped client.
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "redis",
		Critical:  true,
		Timestamp: startTime,
	}

	if r.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	// Ping goes through the breaker, so the probe itself feeds its state.
	err := r.wrapper.Ping(ctx).Err()
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Details = map[string]interface{}{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"circuit_breaker_open": false,
	}

	return result
}

// Pinger is the slice of the coordination service the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CoordinationHealthChecker probes the Redis connection behind the
// coordination service's pub/sub, locks, and sync channels.
type CoordinationHealthChecker struct {
	pinger  Pinger
	logger  *zap.Logger
	timeout time.Duration
}

// NewCoordinationHealthChecker creates a checker over the coordination
// service.
func NewCoordinationHealthChecker(pinger Pinger, logger *zap.Logger) *CoordinationHealthChecker {
	return &CoordinationHealthChecker{
		pinger:  pinger,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (c *CoordinationHealthChecker) Name() string           { return "coordination" }
func (c *CoordinationHealthChecker) IsCritical() bool       { return true }
func (c *CoordinationHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CoordinationHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "coordination",
		Critical:  true,
		Timestamp: startTime,
	}

	err := c.pinger.Ping(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Coordination Redis ping failed"
		result.Details = map[string]interface{}{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Coordination Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Coordination Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}

	return result
}

// DatabaseHealthChecker probes PostgreSQL through the breaker-wrapped pool.
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker.
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "database",
		Critical:  true,
		Timestamp: startTime,
	}

	if d.wrapper.IsCircuitBreakerOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Duration = time.Since(startTime)
		return result
	}

	err := d.wrapper.PingContext(ctx)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		result.Details = map[string]interface{}{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	stats := d.wrapper.GetDB().Stats()

	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
		"circuit_breaker_open": false,
	}

	return result
}

// TemporalHealthChecker probes the Temporal frontend the worker and all
// workflow submissions depend on.
type TemporalHealthChecker struct {
	client  client.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewTemporalHealthChecker creates a Temporal health checker.
func NewTemporalHealthChecker(c client.Client, logger *zap.Logger) *TemporalHealthChecker {
	return &TemporalHealthChecker{
		client:  c,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (t *TemporalHealthChecker) Name() string           { return "temporal" }
func (t *TemporalHealthChecker) IsCritical() bool       { return true }
func (t *TemporalHealthChecker) Timeout() time.Duration { return t.timeout }

func (t *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "temporal",
		Critical:  true,
		Timestamp: startTime,
	}

	_, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Temporal health check failed"
		result.Details = map[string]interface{}{
			"latency_ms": result.Duration.Milliseconds(),
		}
		return result
	}

	result.Status = StatusHealthy
	result.Message = "Temporal healthy"
	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}

	return result
}

// LLMProber is the slice of the LLM client the checker needs.
type LLMProber interface {
	Healthy(ctx context.Context) error
	BaseURL() string
}

// LLMServiceHealthChecker probes the AI-completion service. Non-critical:
// synthesis falls back to the deterministic digest when the service is down.
type LLMServiceHealthChecker struct {
	prober  LLMProber
	logger  *zap.Logger
	timeout time.Duration
}

// NewLLMServiceHealthChecker creates an LLM service health checker.
func NewLLMServiceHealthChecker(prober LLMProber, logger *zap.Logger) *LLMServiceHealthChecker {
	return &LLMServiceHealthChecker{
		prober:  prober,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (l *LLMServiceHealthChecker) Name() string           { return "llm_service" }
func (l *LLMServiceHealthChecker) IsCritical() bool       { return false }
func (l *LLMServiceHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMServiceHealthChecker) Check(ctx context.Context) CheckResult {
	startTime := time.Now()
	result := CheckResult{
		Component: "llm_service",
		Critical:  false,
		Timestamp: startTime,
	}

	err := l.prober.Healthy(ctx)
	result.Duration = time.Since(startTime)

	result.Details = map[string]interface{}{
		"base_url":   l.prober.BaseURL(),
		"latency_ms": result.Duration.Milliseconds(),
	}

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM service unhealthy"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "LLM service healthy"
	return result
}

// CustomHealthChecker adapts a plain function into a Checker.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
