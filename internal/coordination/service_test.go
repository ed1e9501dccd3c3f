package coordination

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/state"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	states, err := state.NewManager(mr.Addr(), zap.NewNop())
	require.NoError(t, err)

	svc := NewService(rdb, states, zap.NewNop())
	require.NoError(t, svc.Open(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })

	awaitListener(t, mr)
	return svc, mr
}

// awaitListener blocks until the service's pattern subscription is live.
// miniredis reports how many subscribers a publish reached, so a probe on a
// topic nobody is locally subscribed to confirms the listener without side
// effects.
func awaitListener(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mr.Publish(EventChannel("__probe__"), "{}") > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishAndSubscribe(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/prsnl"

	received := make(chan Event, 10)
	id := svc.Subscribe(repo, func(ev Event) {
		received <- ev
	})
	defer svc.Unsubscribe(repo, id)

	ch := svc.SubscribeChannel(repo, 10)
	defer svc.UnsubscribeChannel(repo, ch)

	err := svc.PublishEvent(ctx, Event{
		EventType:      EventAnalysisStarted,
		RepositoryPath: repo,
		AnalysisID:     "an-1",
		Source:         SourceWeb,
		Payload:        map[string]interface{}{"phase": "scan"},
	})
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, EventAnalysisStarted, ev.EventType)
		assert.Equal(t, repo, ev.RepositoryPath)
		assert.Equal(t, "an-1", ev.AnalysisID)
		assert.NotEmpty(t, ev.EventID)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, PriorityNormal, ev.Priority)
		assert.Equal(t, "scan", ev.Payload["phase"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for callback delivery")
	}

	select {
	case ev := <-ch:
		assert.Equal(t, EventAnalysisStarted, ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel delivery")
	}
}

func TestSubscribeIsScopedToRepository(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var other atomic.Int64
	svc.Subscribe("/repos/other", func(Event) { other.Add(1) })

	received := make(chan Event, 1)
	svc.Subscribe("/repos/mine", func(ev Event) { received <- ev })

	require.NoError(t, svc.PublishEvent(ctx, Event{
		EventType:      EventCLIToolStarted,
		RepositoryPath: "/repos/mine",
		Source:         SourceCLI,
	}))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	assert.Equal(t, int64(0), other.Load())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/prsnl"

	var count atomic.Int64
	id := svc.Subscribe(repo, func(Event) { count.Add(1) })

	sentinel := make(chan Event, 4)
	svc.Subscribe(repo, func(ev Event) { sentinel <- ev })

	require.NoError(t, svc.PublishEvent(ctx, Event{EventType: EventAnalysisProgress, RepositoryPath: repo}))
	select {
	case <-sentinel:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first event")
	}
	require.Eventually(t, func() bool { return count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	svc.Unsubscribe(repo, id)
	require.NoError(t, svc.PublishEvent(ctx, Event{EventType: EventAnalysisProgress, RepositoryPath: repo}))
	// The dispatcher finishes one event before starting the next, so once
	// the second event lands here the removed callback can no longer fire.
	select {
	case <-sentinel:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for second event")
	}
	assert.Equal(t, int64(1), count.Load(), "unsubscribed callback must not fire")
}

func TestCallbackPanicDoesNotKillDispatcher(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/prsnl"

	svc.Subscribe(repo, func(Event) { panic("subscriber bug") })
	received := make(chan Event, 4)
	svc.Subscribe(repo, func(ev Event) { received <- ev })

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.PublishEvent(ctx, Event{
			EventType:      EventInsightGenerated,
			RepositoryPath: repo,
			Payload:        map[string]interface{}{"n": i},
		}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("dispatcher stopped after panic, missing event %d", i)
		}
	}
}

func TestEventHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/history"

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.PublishEvent(ctx, Event{
			EventType:      EventAnalysisProgress,
			RepositoryPath: repo,
			Payload:        map[string]interface{}{"seq": i},
		}))
	}

	events := svc.GetEventHistory(ctx, repo, 3)
	require.Len(t, events, 3)
	assert.Equal(t, float64(4), events[0].Payload["seq"])
	assert.Equal(t, float64(3), events[1].Payload["seq"])
	assert.Equal(t, float64(2), events[2].Payload["seq"])

	all := svc.GetEventHistory(ctx, repo, 0)
	assert.Len(t, all, 5)

	assert.Empty(t, svc.GetEventHistory(ctx, "/repos/nothing-here", 10))
}

func TestLockExclusionAndTokenRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token1, ok := svc.AcquireLock(ctx, "r1", 5*time.Second)
	require.True(t, ok)
	require.NotEmpty(t, token1)

	_, ok = svc.AcquireLock(ctx, "r1", 5*time.Second)
	assert.False(t, ok, "second acquire before release must fail")

	// A stranger's token must not release the lock.
	assert.False(t, svc.ReleaseLock(ctx, "r1", "not-the-token"))
	_, ok = svc.AcquireLock(ctx, "r1", 5*time.Second)
	assert.False(t, ok, "lock must survive a mismatched release")

	assert.True(t, svc.ReleaseLock(ctx, "r1", token1))
	assert.False(t, svc.ReleaseLock(ctx, "r1", token1), "double release must report false")

	token3, ok := svc.AcquireLock(ctx, "r1", 5*time.Second)
	require.True(t, ok)
	require.NotEqual(t, token1, token3)
}

func TestLockExpiresAndForceRelease(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	_, ok := svc.AcquireLock(ctx, "r2", time.Second)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok = svc.AcquireLock(ctx, "r2", time.Second)
	assert.True(t, ok, "expired lock must be acquirable")

	assert.True(t, svc.ForceReleaseLock(ctx, "r2"))
	assert.False(t, svc.ForceReleaseLock(ctx, "r2"))
	_, ok = svc.AcquireLock(ctx, "r2", time.Second)
	assert.True(t, ok)
}

func TestSyncTimesOutWithoutResponder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	started := time.Now()
	resp := svc.SyncCLIResults(ctx, "an-42", map[string]interface{}{
		"repository_path": "/repos/prsnl",
		"pattern_count":   3,
	}, 300*time.Millisecond)
	elapsed := time.Since(started)

	assert.Equal(t, SyncStatusTimeout, resp.Status)
	assert.NotEmpty(t, resp.SyncID)
	assert.Contains(t, resp.Message, "no response")
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestSyncRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/prsnl"

	// The web side listens on the repository topic and answers sync
	// requests off the dispatcher goroutine, the way a real responder would.
	svc.Subscribe(repo, func(ev Event) {
		if ev.EventType != EventSyncRequest {
			return
		}
		syncID, _ := ev.Payload["sync_id"].(string)
		go func() {
			err := svc.RespondToSync(context.Background(), syncID, map[string]interface{}{
				"message":  "merged",
				"accepted": true,
			})
			assert.NoError(t, err)
		}()
	})

	resp := svc.SyncCLIResults(ctx, "an-7", map[string]interface{}{
		"repository_path": repo,
		"insights":        []string{"a", "b"},
	}, 5*time.Second)

	require.Equal(t, SyncStatusCompleted, resp.Status)
	assert.Equal(t, "merged", resp.Message)
	assert.Equal(t, true, resp.Data["accepted"])
	assert.False(t, resp.RespondedAt.IsZero())
}

func TestSyncFindsResponseWrittenBeforeWait(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	// Responder that races ahead: answer the pending record the moment the
	// request event lands, before the requester reaches its select.
	svc.Subscribe("/repos/fast", func(ev Event) {
		if ev.EventType != EventSyncRequest {
			return
		}
		syncID, _ := ev.Payload["sync_id"].(string)
		go svc.RespondToSync(context.Background(), syncID, map[string]interface{}{"message": "fast"})
	})

	resp := svc.SyncCLIResults(ctx, "an-9", map[string]interface{}{
		"repository_path": "/repos/fast",
	}, 5*time.Second)
	require.Equal(t, SyncStatusCompleted, resp.Status)

	// The answered pending record is reclaimed.
	require.Eventually(t, func() bool {
		return !mr.Exists(syncPendingKey(resp.SyncID))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncTopicPrefersAnalysisState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/from-state"

	require.NoError(t, svc.UpdateAnalysisState(ctx, &state.AnalysisState{
		AnalysisID:     "an-state",
		RepositoryPath: repo,
		Status:         state.StatusRunning,
		Progress:       40,
	}))

	seen := make(chan Event, 1)
	svc.Subscribe(repo, func(ev Event) {
		if ev.EventType == EventSyncRequest {
			seen <- ev
		}
	})

	go svc.SyncCLIResults(ctx, "an-state", map[string]interface{}{"tool": "semgrep"}, 500*time.Millisecond)

	select {
	case ev := <-seen:
		assert.Equal(t, repo, ev.RepositoryPath)
		assert.Equal(t, "an-state", ev.AnalysisID)
		assert.Equal(t, PriorityHigh, ev.Priority)
	case <-time.After(2 * time.Second):
		t.Fatal("sync request never reached the repository topic")
	}
}

func TestAnalysisStatePassthrough(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	st := &state.AnalysisState{
		AnalysisID:     "an-100",
		RepositoryPath: "/repos/prsnl",
		Status:         state.StatusRunning,
		Progress:       10,
		CurrentPhase:   "conversation_intelligence",
	}
	require.NoError(t, svc.UpdateAnalysisState(ctx, st))

	got := svc.GetAnalysisState(ctx, "an-100")
	require.NotNil(t, got)
	assert.Equal(t, "/repos/prsnl", got.RepositoryPath)
	assert.Equal(t, 10, got.Progress)

	byRepo := svc.GetRepositoryAnalysisState(ctx, "/repos/prsnl")
	require.NotNil(t, byRepo)
	assert.Equal(t, "an-100", byRepo.AnalysisID)

	assert.Nil(t, svc.GetAnalysisState(ctx, "no-such-analysis"))
	assert.Nil(t, svc.GetRepositoryAnalysisState(ctx, "/repos/unknown"))
}

func TestCleanupExpiredData(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	// Orphans: coordination keys that lost their TTL.
	mr.Set(syncPendingKey("orphan-1"), "{}")
	mr.Set(syncResponseKey("orphan-2"), "{}")
	mr.Set(lockKey("orphan-lock"), "tok")

	// Healthy keys keep their expirations and must survive.
	_, ok := svc.AcquireLock(ctx, "live-lock", time.Minute)
	require.True(t, ok)

	counts := svc.CleanupExpiredData(ctx)
	assert.Equal(t, 1, counts["sync_pending"])
	assert.Equal(t, 1, counts["sync_response"])
	assert.Equal(t, 1, counts["locks"])

	assert.False(t, mr.Exists(syncPendingKey("orphan-1")))
	assert.False(t, mr.Exists(syncResponseKey("orphan-2")))
	assert.False(t, mr.Exists(lockKey("orphan-lock")))
	assert.True(t, mr.Exists(lockKey("live-lock")))
}

func TestStatsSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/prsnl"

	svc.Subscribe(repo, func(Event) {})
	ch := svc.SubscribeChannel(repo, 4)
	defer svc.UnsubscribeChannel(repo, ch)

	_, ok := svc.AcquireLock(ctx, "stat-lock", time.Minute)
	require.True(t, ok)
	require.NoError(t, svc.PublishEvent(ctx, Event{EventType: EventKnowledgeUpdate, RepositoryPath: repo}))

	st := svc.Stats(ctx)
	assert.True(t, st.Open)
	assert.Equal(t, 1, st.CallbackCount)
	assert.Equal(t, 1, st.ChannelCount)
	assert.Equal(t, 1, st.TopicCount)
	assert.Equal(t, 1, st.ActiveLocks)
	assert.Equal(t, 1, st.ReplayStreams)
	assert.Equal(t, int64(1), st.ReplayedEvents)
	assert.GreaterOrEqual(t, st.UptimeSeconds, 0.0)
}

func TestCloseFailsPendingSyncWaiters(t *testing.T) {
	svc, _ := newTestService(t)

	done := make(chan SyncResponse, 1)
	go func() {
		done <- svc.SyncCLIResults(context.Background(), "an-close", map[string]interface{}{
			"repository_path": "/repos/prsnl",
		}, 10*time.Second)
	}()

	// Let the requester register its waiter and publish before closing.
	require.Eventually(t, func() bool {
		return svc.Stats(context.Background()).PendingSyncs == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Close())

	select {
	case resp := <-done:
		assert.Equal(t, SyncStatusError, resp.Status)
		assert.Contains(t, resp.Message, "closed")
	case <-time.After(3 * time.Second):
		t.Fatal("sync waiter not released on close")
	}
}

func TestPublishRequiresRepositoryPath(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.PublishEvent(context.Background(), Event{EventType: EventAnalysisStarted})
	require.Error(t, err)
}

func TestSlowChannelSubscriberDropsInsteadOfBlocking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	repo := "/repos/slow"

	ch := svc.SubscribeChannel(repo, 1) // capacity one, never drained
	defer svc.UnsubscribeChannel(repo, ch)

	witness := make(chan Event, 8)
	svc.Subscribe(repo, func(ev Event) { witness <- ev })

	for i := 0; i < 4; i++ {
		require.NoError(t, svc.PublishEvent(ctx, Event{
			EventType:      EventAnalysisProgress,
			RepositoryPath: repo,
			Payload:        map[string]interface{}{"seq": fmt.Sprint(i)},
		}))
	}
	for i := 0; i < 4; i++ {
		select {
		case <-witness:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher stalled behind a slow channel subscriber")
		}
	}
	// Only the first event fit; the rest were dropped, not queued.
	assert.Len(t, ch, 1)
}
