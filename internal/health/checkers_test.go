package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap/zaptest"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/coordination"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/llm"
)

// The production types behind the checker interfaces.
var (
	_ Pinger    = (*coordination.Service)(nil)
	_ LLMProber = (*llm.Client)(nil)
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeLLM struct {
	err error
}

func (f fakeLLM) Healthy(ctx context.Context) error { return f.err }
func (f fakeLLM) BaseURL() string                   { return "http://llm-service:8000" }

func newWrappedRedis(t *testing.T) (*miniredis.Miniredis, *circuitbreaker.RedisWrapper) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return mr, circuitbreaker.NewRedisWrapper(rdb, zaptest.NewLogger(t))
}

func TestRedisHealthChecker(t *testing.T) {
	mr, wrapper := newWrappedRedis(t)
	checker := NewRedisHealthChecker(wrapper, zaptest.NewLogger(t))

	assert.Equal(t, "redis", checker.Name())
	assert.True(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "latency_ms")

	mr.Close()
	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestRedisHealthCheckerCircuitOpen(t *testing.T) {
	mr, wrapper := newWrappedRedis(t)
	checker := NewRedisHealthChecker(wrapper, zaptest.NewLogger(t))

	mr.Close()
	// Enough consecutive failures to trip the breaker.
	for i := 0; i < 6; i++ {
		checker.Check(context.Background())
	}

	result := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "circuit breaker open", result.Error)
}

func TestCoordinationHealthChecker(t *testing.T) {
	checker := NewCoordinationHealthChecker(fakePinger{}, zaptest.NewLogger(t))
	assert.Equal(t, "coordination", checker.Name())
	assert.True(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	down := NewCoordinationHealthChecker(fakePinger{err: errors.New("connection refused")}, zaptest.NewLogger(t))
	result = down.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "connection refused")
}

func TestDatabaseHealthChecker(t *testing.T) {
	mockDB, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	wrapper := circuitbreaker.NewDatabaseWrapper(mockDB, zaptest.NewLogger(t))
	checker := NewDatabaseHealthChecker(wrapper, zaptest.NewLogger(t))

	assert.Equal(t, "database", checker.Name())
	assert.True(t, checker.IsCritical())

	dbMock.ExpectPing()
	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "open_connections")

	dbMock.ExpectPing().WillReturnError(errors.New("connection reset"))
	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "connection reset")
}

func TestTemporalHealthChecker(t *testing.T) {
	mockClient := &mocks.Client{}
	mockClient.On("CheckHealth", mock.Anything, mock.Anything).
		Return(&client.CheckHealthResponse{}, nil).Once()
	mockClient.On("CheckHealth", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()

	checker := NewTemporalHealthChecker(mockClient, zaptest.NewLogger(t))
	assert.Equal(t, "temporal", checker.Name())
	assert.True(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)

	result = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "connection refused")

	mockClient.AssertExpectations(t)
}

func TestLLMServiceHealthChecker(t *testing.T) {
	checker := NewLLMServiceHealthChecker(fakeLLM{}, zaptest.NewLogger(t))
	assert.Equal(t, "llm_service", checker.Name())
	assert.False(t, checker.IsCritical())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "http://llm-service:8000", result.Details["base_url"])

	down := NewLLMServiceHealthChecker(fakeLLM{err: errors.New("llm service unreachable")}, zaptest.NewLogger(t))
	result = down.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "unreachable")
}
