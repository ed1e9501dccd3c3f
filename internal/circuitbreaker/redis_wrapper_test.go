package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"
)

func newWrappedRedis(t *testing.T) (*miniredis.Miniredis, *RedisWrapper) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return s, NewRedisWrapper(client, zaptest.NewLogger(t))
}

func TestRedisWrapperNormalOperations(t *testing.T) {
	_, wrapper := newWrappedRedis(t)
	ctx := context.Background()

	if err := wrapper.Ping(ctx).Err(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := wrapper.Set(ctx, "analysis:state:abc", `{"status":"running"}`, time.Minute).Err(); err != nil {
		t.Errorf("Set failed: %v", err)
	}

	got := wrapper.Get(ctx, "analysis:state:abc")
	if got.Err() != nil {
		t.Errorf("Get failed: %v", got.Err())
	}
	if got.Val() != `{"status":"running"}` {
		t.Errorf("unexpected value %q", got.Val())
	}

	keys := wrapper.Keys(ctx, "analysis:state:*")
	if keys.Err() != nil || len(keys.Val()) != 1 {
		t.Errorf("Keys: err=%v val=%v", keys.Err(), keys.Val())
	}

	ttl := wrapper.TTL(ctx, "analysis:state:abc")
	if ttl.Err() != nil || ttl.Val() <= 0 {
		t.Errorf("TTL: err=%v val=%v", ttl.Err(), ttl.Val())
	}

	del := wrapper.Del(ctx, "analysis:state:abc")
	if del.Err() != nil || del.Val() != 1 {
		t.Errorf("Del: err=%v deleted=%d", del.Err(), del.Val())
	}
}

func TestRedisWrapperOpensOnRepeatedFailure(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"}) // nothing listens here
	defer client.Close()

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if wrapper.Ping(ctx).Err() == nil {
			t.Error("expected ping to fail with no server")
		}
	}

	if !wrapper.IsCircuitBreakerOpen() {
		t.Fatal("expected open breaker after repeated failures")
	}

	// Fails fast without touching the connection.
	if err := wrapper.Get(ctx, "analysis:state:abc").Err(); err != ErrCircuitBreakerOpen {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestRedisWrapperNilIsNotAFailure(t *testing.T) {
	_, wrapper := newWrappedRedis(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := wrapper.Get(ctx, "analysis:state:missing").Err(); err != redis.Nil {
			t.Errorf("expected redis.Nil, got %v", err)
		}
	}

	if wrapper.IsCircuitBreakerOpen() {
		t.Error("redis.Nil results must not trip the breaker")
	}
}
