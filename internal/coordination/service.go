package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/state"
)

const (
	// DefaultLockTTL bounds how long an abandoned lock can block other holders.
	DefaultLockTTL = 5 * time.Minute

	// DefaultSyncTimeout applies when SyncCLIResults is called with timeout <= 0.
	DefaultSyncTimeout = 30 * time.Second

	eventStreamMaxLen = 1000
	eventStreamTTL    = time.Hour
	syncResponseTTL   = 10 * time.Minute
	syncPendingGrace  = time.Minute
)

// Sync handshake terminal statuses.
const (
	SyncStatusCompleted = "completed"
	SyncStatusTimeout   = "timeout"
	SyncStatusError     = "error"
)

// releaseLockScript deletes a lock only when the caller presents the token
// written at acquire time, so one holder cannot release another's lock.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Service is the CLI/web coordination layer: repository-scoped pub/sub with a
// capped replay stream, shared analysis state, advisory locks, and a blocking
// request/reply sync handshake. One background listener (PSUBSCRIBE) feeds a
// dispatcher goroutine that fans out to local subscribers; everything else is
// direct Redis commands.
//
// Reads degrade to safe defaults on transport errors; writes whose failure
// the caller must know about (state updates, sync responses) return errors.
type Service struct {
	rdb    *redis.Client
	states *state.Manager
	logger *zap.Logger

	mu        sync.RWMutex
	callbacks map[string]map[int]EventCallback
	channels  map[string]map[chan Event]struct{}
	waiters   map[string]chan SyncResponse
	nextSub   int
	opened    bool
	closed    bool

	pubsub    *redis.PubSub
	wg        sync.WaitGroup
	startedAt time.Time
}

// NewService wires a coordination service over a Redis client and the shared
// analysis-state manager. Call Open before publishing or subscribing.
func NewService(rdb *redis.Client, states *state.Manager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rdb:       rdb,
		states:    states,
		logger:    logger,
		callbacks: make(map[string]map[int]EventCallback),
		channels:  make(map[string]map[chan Event]struct{}),
		waiters:   make(map[string]chan SyncResponse),
	}
}

// Open verifies connectivity and starts the listener loop. Idempotent.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	if s.closed {
		return errors.New("coordination: service closed")
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("coordination: redis ping: %w", err)
	}

	// One subscription serves every repository topic plus the sync-response
	// notifications; the dispatcher routes by channel prefix.
	s.pubsub = s.rdb.PSubscribe(ctx, eventChannelPrefix+"*", syncResponsePrefix+"*")
	msgCh := s.pubsub.Channel(redis.WithChannelSize(256))

	s.wg.Add(1)
	go s.dispatch(msgCh)

	s.startedAt = time.Now()
	s.opened = true
	s.logger.Info("Coordination service opened")
	return nil
}

// Close stops the listener, closes subscriber channels, and fails any
// in-flight sync waits. Idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if !s.opened || s.closed {
		s.closed = true
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pubsub := s.pubsub
	s.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
	}
	s.wg.Wait() // dispatcher drained; safe to close subscriber channels

	s.mu.Lock()
	for repo, subs := range s.channels {
		for ch := range subs {
			close(ch)
			metrics.CoordinationSubscribers.Dec()
		}
		delete(s.channels, repo)
	}
	for id, w := range s.waiters {
		select {
		case w <- SyncResponse{SyncID: id, Status: SyncStatusError, Message: "coordination service closed"}:
		default:
		}
		delete(s.waiters, id)
	}
	s.callbacks = make(map[string]map[int]EventCallback)
	s.mu.Unlock()

	s.logger.Info("Coordination service closed")
	return err
}

// dispatch is the single fan-out loop. It exits when the pubsub channel
// closes; a bad payload or a panicking callback never kills it.
func (s *Service) dispatch(msgCh <-chan *redis.Message) {
	defer s.wg.Done()
	for msg := range msgCh {
		switch {
		case strings.HasPrefix(msg.Channel, syncResponsePrefix):
			s.deliverSyncResponse(msg)
		case strings.HasPrefix(msg.Channel, eventChannelPrefix):
			s.deliverEvent(msg)
		}
	}
}

func (s *Service) deliverEvent(msg *redis.Message) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		s.logger.Warn("Dropping undecodable coordination event",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return
	}
	repo := strings.TrimPrefix(msg.Channel, eventChannelPrefix)

	s.mu.RLock()
	cbs := make([]EventCallback, 0, len(s.callbacks[repo]))
	for _, cb := range s.callbacks[repo] {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()

	for _, cb := range cbs {
		s.invoke(cb, ev)
	}

	// Channel subscribers are closed under the write lock, so sending under
	// the read lock cannot race a close. Slow consumers lose events rather
	// than stalling the loop.
	s.mu.RLock()
	for ch := range s.channels[repo] {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.RUnlock()
}

func (s *Service) invoke(cb EventCallback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CallbackErrors.Inc()
			s.logger.Error("Event callback panicked",
				zap.Any("panic", r),
				zap.String("event_type", string(ev.EventType)),
				zap.String("repository_path", ev.RepositoryPath))
		}
	}()
	cb(ev)
}

func (s *Service) deliverSyncResponse(msg *redis.Message) {
	syncID := strings.TrimPrefix(msg.Channel, syncResponsePrefix)
	var resp SyncResponse
	if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
		s.logger.Warn("Dropping undecodable sync response",
			zap.String("sync_id", syncID),
			zap.Error(err))
		return
	}
	if resp.SyncID == "" {
		resp.SyncID = syncID
	}

	s.mu.Lock()
	w, ok := s.waiters[syncID]
	if ok {
		delete(s.waiters, syncID)
	}
	s.mu.Unlock()
	if ok {
		select {
		case w <- resp:
		default:
		}
	}
}

// PublishEvent publishes to the repository topic and appends to its capped
// replay stream. Live delivery is best effort; late joiners read history.
func (s *Service) PublishEvent(ctx context.Context, ev Event) error {
	if ev.RepositoryPath == "" {
		return errors.New("coordination: event requires repository_path")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Source == "" {
		ev.Source = SourceWorker
	}
	ev.Priority = clampPriority(ev.Priority)
	payload := ev.Marshal()

	if err := s.rdb.Publish(ctx, EventChannel(ev.RepositoryPath), payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.EventType, err)
	}

	// Stream append failures do not undo the live publish.
	streamKey := eventStreamKey(ev.RepositoryPath)
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": string(payload)},
	}).Err()
	if err != nil {
		s.logger.Warn("Failed to append event to replay stream",
			zap.String("repository_path", ev.RepositoryPath),
			zap.Error(err))
	} else if err := s.rdb.Expire(ctx, streamKey, eventStreamTTL).Err(); err != nil {
		s.logger.Warn("Failed to refresh replay stream TTL",
			zap.String("repository_path", ev.RepositoryPath),
			zap.Error(err))
	}

	metrics.RecordCoordinationEvent(string(ev.EventType), string(ev.Source))
	return nil
}

// Subscribe registers a callback for every event on a repository topic and
// returns an id for Unsubscribe. Callbacks run on the dispatcher goroutine
// and must not block.
func (s *Service) Subscribe(repositoryPath string, cb EventCallback) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	subs := s.callbacks[repositoryPath]
	if subs == nil {
		subs = make(map[int]EventCallback)
		s.callbacks[repositoryPath] = subs
	}
	subs[id] = cb
	metrics.CoordinationSubscribers.Inc()
	return id
}

// Unsubscribe removes a callback registered with Subscribe.
func (s *Service) Unsubscribe(repositoryPath string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.callbacks[repositoryPath]
	if !ok {
		return
	}
	if _, ok := subs[id]; !ok {
		return
	}
	delete(subs, id)
	metrics.CoordinationSubscribers.Dec()
	if len(subs) == 0 {
		delete(s.callbacks, repositoryPath)
	}
}

// SubscribeChannel returns a buffered channel of events for a repository
// topic. Delivery is non-blocking: slow consumers lose events. Callers must
// drain and call UnsubscribeChannel.
func (s *Service) SubscribeChannel(repositoryPath string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.channels[repositoryPath]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		s.channels[repositoryPath] = subs
	}
	subs[ch] = struct{}{}
	metrics.CoordinationSubscribers.Inc()
	return ch
}

// UnsubscribeChannel removes and closes a channel returned by SubscribeChannel.
func (s *Service) UnsubscribeChannel(repositoryPath string, ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.channels[repositoryPath]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	metrics.CoordinationSubscribers.Dec()
	if len(subs) == 0 {
		delete(s.channels, repositoryPath)
	}
}

// UpdateAnalysisState writes shared analysis state. Errors propagate: a
// caller that believes it updated progress must find out when it did not.
func (s *Service) UpdateAnalysisState(ctx context.Context, st *state.AnalysisState) error {
	return s.states.Update(ctx, st)
}

// GetAnalysisState returns the state for an analysis id, or nil when absent
// or unreadable.
func (s *Service) GetAnalysisState(ctx context.Context, analysisID string) *state.AnalysisState {
	st, err := s.states.Get(ctx, analysisID)
	if err != nil {
		if !errors.Is(err, state.ErrStateNotFound) {
			s.logger.Warn("Failed to read analysis state",
				zap.String("analysis_id", analysisID),
				zap.Error(err))
		}
		return nil
	}
	return st
}

// GetRepositoryAnalysisState returns the current analysis state for a
// repository via its pointer key, or nil when absent or unreadable.
func (s *Service) GetRepositoryAnalysisState(ctx context.Context, repositoryPath string) *state.AnalysisState {
	st, err := s.states.GetByRepository(ctx, repositoryPath)
	if err != nil {
		if !errors.Is(err, state.ErrStateNotFound) {
			s.logger.Warn("Failed to read repository analysis state",
				zap.String("repository_path", repositoryPath),
				zap.Error(err))
		}
		return nil
	}
	return st
}

// AcquireLock attempts an atomic set-if-absent acquisition of an advisory
// lock and returns the ownership token. Contention and transport errors both
// yield ok=false; acquisition never raises.
func (s *Service) AcquireLock(ctx context.Context, resourceName string, ttl time.Duration) (string, bool) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, lockKey(resourceName), token, ttl).Result()
	if err != nil {
		s.logger.Warn("Lock acquisition failed",
			zap.String("resource", resourceName),
			zap.Error(err))
		metrics.RecordLockAcquisition("error")
		return "", false
	}
	if !ok {
		metrics.RecordLockAcquisition("contended")
		return "", false
	}
	metrics.RecordLockAcquisition("acquired")
	return token, true
}

// ReleaseLock releases a lock if the token matches the one issued at acquire
// time. Returns false when the lock is held by someone else, already gone,
// or the transport failed.
func (s *Service) ReleaseLock(ctx context.Context, resourceName, token string) bool {
	n, err := releaseLockScript.Run(ctx, s.rdb, []string{lockKey(resourceName)}, token).Int()
	if err != nil {
		s.logger.Warn("Lock release failed",
			zap.String("resource", resourceName),
			zap.Error(err))
		return false
	}
	return n == 1
}

// ForceReleaseLock deletes a lock regardless of ownership. Operator escape
// hatch for wedged resources; normal callers use ReleaseLock.
func (s *Service) ForceReleaseLock(ctx context.Context, resourceName string) bool {
	n, err := s.rdb.Del(ctx, lockKey(resourceName)).Result()
	if err != nil {
		s.logger.Warn("Forced lock release failed",
			zap.String("resource", resourceName),
			zap.Error(err))
		return false
	}
	return n > 0
}

// SyncCLIResults performs the blocking request/reply handshake: it registers
// a waiter, stores the pending request record, publishes a sync_request
// event, and waits for the responder's notification up to timeout. The
// responder side is RespondToSync. Expiry returns Status "timeout"; a
// request that could not be published returns Status "error".
func (s *Service) SyncCLIResults(ctx context.Context, analysisID string, cliResults map[string]interface{}, timeout time.Duration) SyncResponse {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	syncID := uuid.NewString()
	started := time.Now()

	waiter := make(chan SyncResponse, 1)
	s.mu.Lock()
	s.waiters[syncID] = waiter
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, syncID)
		s.mu.Unlock()
	}()

	pending := map[string]interface{}{
		"sync_id":         syncID,
		"analysis_id":     analysisID,
		"cli_results":     cliResults,
		"requested_at":    started.UTC().Format(time.RFC3339Nano),
		"timeout_seconds": int(timeout.Seconds()),
	}
	pb, _ := json.Marshal(pending)
	if err := s.rdb.Set(ctx, syncPendingKey(syncID), pb, timeout+syncPendingGrace).Err(); err != nil {
		metrics.RecordSyncRequest(SyncStatusError, time.Since(started).Seconds())
		return SyncResponse{
			SyncID:  syncID,
			Status:  SyncStatusError,
			Message: fmt.Sprintf("store pending sync request: %v", err),
		}
	}

	ev := Event{
		EventType:      EventSyncRequest,
		RepositoryPath: s.syncTopic(ctx, analysisID, cliResults),
		AnalysisID:     analysisID,
		Source:         SourceCLI,
		Priority:       PriorityHigh,
		Payload: map[string]interface{}{
			"sync_id":         syncID,
			"cli_results":     cliResults,
			"timeout_seconds": int(timeout.Seconds()),
		},
	}
	if err := s.PublishEvent(ctx, ev); err != nil {
		metrics.RecordSyncRequest(SyncStatusError, time.Since(started).Seconds())
		return SyncResponse{
			SyncID:  syncID,
			Status:  SyncStatusError,
			Message: fmt.Sprintf("publish sync request: %v", err),
		}
	}

	// A responder that raced ahead of our waiter registration left the
	// record behind; the notification alone would have missed us.
	if resp, ok := s.readSyncResponse(ctx, syncID); ok {
		metrics.RecordSyncRequest(resp.Status, time.Since(started).Seconds())
		return resp
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-waiter:
		metrics.RecordSyncRequest(resp.Status, time.Since(started).Seconds())
		return resp
	case <-ctx.Done():
		metrics.RecordSyncRequest("cancelled", time.Since(started).Seconds())
		return SyncResponse{
			SyncID:  syncID,
			Status:  SyncStatusError,
			Message: fmt.Sprintf("sync wait cancelled: %v", ctx.Err()),
		}
	case <-timer.C:
		// Final record check covers a notification lost to a pub/sub
		// reconnect during the wait.
		if resp, ok := s.readSyncResponse(ctx, syncID); ok {
			metrics.RecordSyncRequest(resp.Status, time.Since(started).Seconds())
			return resp
		}
		metrics.RecordSyncRequest(SyncStatusTimeout, time.Since(started).Seconds())
		return SyncResponse{
			SyncID:  syncID,
			Status:  SyncStatusTimeout,
			Message: fmt.Sprintf("no response to sync request within %s", timeout),
		}
	}
}

// syncTopic resolves which repository topic carries a sync request: the
// analysis state's repository when known, then an explicit repository_path
// in the CLI results, then the analysis id itself.
func (s *Service) syncTopic(ctx context.Context, analysisID string, cliResults map[string]interface{}) string {
	if st := s.GetAnalysisState(ctx, analysisID); st != nil && st.RepositoryPath != "" {
		return st.RepositoryPath
	}
	if rp, ok := cliResults["repository_path"].(string); ok && rp != "" {
		return rp
	}
	return analysisID
}

func (s *Service) readSyncResponse(ctx context.Context, syncID string) (SyncResponse, bool) {
	b, err := s.rdb.Get(ctx, syncResponseKey(syncID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("Failed to read sync response record",
				zap.String("sync_id", syncID),
				zap.Error(err))
		}
		return SyncResponse{}, false
	}
	var resp SyncResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		s.logger.Warn("Undecodable sync response record",
			zap.String("sync_id", syncID),
			zap.Error(err))
		return SyncResponse{}, false
	}
	if resp.SyncID == "" {
		resp.SyncID = syncID
	}
	return resp, true
}

// RespondToSync answers a pending sync request: it writes the response
// record the requester checks, then publishes the wake-up notification.
// Errors propagate so the responder can retry or surface the failure.
func (s *Service) RespondToSync(ctx context.Context, syncID string, data map[string]interface{}) error {
	if syncID == "" {
		return errors.New("coordination: sync id required")
	}
	resp := SyncResponse{
		SyncID:      syncID,
		Status:      SyncStatusCompleted,
		Data:        data,
		RespondedAt: time.Now().UTC(),
	}
	if msg, ok := data["message"].(string); ok {
		resp.Message = msg
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode sync response %s: %w", syncID, err)
	}
	if err := s.rdb.Set(ctx, syncResponseKey(syncID), b, syncResponseTTL).Err(); err != nil {
		return fmt.Errorf("store sync response %s: %w", syncID, err)
	}
	if err := s.rdb.Publish(ctx, syncResponseKey(syncID), b).Err(); err != nil {
		return fmt.Errorf("notify sync response %s: %w", syncID, err)
	}
	// The pending record is answered; reclaim it early.
	if err := s.rdb.Del(ctx, syncPendingKey(syncID)).Err(); err != nil {
		s.logger.Debug("Failed to delete pending sync record",
			zap.String("sync_id", syncID),
			zap.Error(err))
	}
	return nil
}

// GetEventHistory reads the replay stream newest-first. Limit defaults to
// 100 and is capped at the stream bound. Returns nil on transport errors.
func (s *Service) GetEventHistory(ctx context.Context, repositoryPath string, limit int64) []Event {
	if limit <= 0 {
		limit = 100
	}
	if limit > eventStreamMaxLen {
		limit = eventStreamMaxLen
	}
	msgs, err := s.rdb.XRevRangeN(ctx, eventStreamKey(repositoryPath), "+", "-", limit).Result()
	if err != nil {
		s.logger.Warn("Failed to read event history",
			zap.String("repository_path", repositoryPath),
			zap.Error(err))
		return nil
	}
	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["event"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			s.logger.Warn("Skipping undecodable event in replay stream",
				zap.String("repository_path", repositoryPath),
				zap.String("stream_id", m.ID),
				zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events
}

// CleanupExpiredData deletes coordination keys that lost their TTL (crashed
// writers, manual edits). Normal keys all carry expirations; anything
// persistent under these prefixes is an orphan. Returns deletions by kind.
func (s *Service) CleanupExpiredData(ctx context.Context) map[string]int {
	kinds := []struct {
		name   string
		prefix string
	}{
		{"sync_pending", syncPendingPrefix},
		{"sync_response", syncResponsePrefix},
		{"locks", lockKeyPrefix},
		{"analysis_state", analysisStatePrefix},
		{"analysis_repo", analysisRepoPrefix},
	}
	counts := make(map[string]int, len(kinds))
	for _, kind := range kinds {
		counts[kind.name] = 0
		var cursor uint64
		for {
			keys, next, err := s.rdb.Scan(ctx, cursor, kind.prefix+"*", 100).Result()
			if err != nil {
				s.logger.Warn("Cleanup scan failed",
					zap.String("prefix", kind.prefix),
					zap.Error(err))
				break
			}
			for _, key := range keys {
				ttl, err := s.rdb.TTL(ctx, key).Result()
				if err != nil || ttl != -1 {
					continue // -1 means the key exists with no expiry
				}
				if err := s.rdb.Del(ctx, key).Err(); err == nil {
					counts[kind.name]++
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return counts
}

// Ping verifies the Redis connection behind the service. Health probes use
// this instead of Stats, which pays for a keyspace scan.
func (s *Service) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// ServiceStats is a point-in-time snapshot for the stats endpoint.
type ServiceStats struct {
	Open           bool    `json:"open"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	CallbackCount  int     `json:"callback_count"`
	ChannelCount   int     `json:"channel_count"`
	TopicCount     int     `json:"topic_count"`
	PendingSyncs   int     `json:"pending_syncs"`
	ActiveLocks    int     `json:"active_locks"`
	ReplayStreams  int     `json:"replay_streams"`
	ReplayedEvents int64   `json:"replayed_events"`
}

// Stats reports local subscriber counts plus Redis-side lock and stream
// totals. Transport errors leave the affected fields at zero.
func (s *Service) Stats(ctx context.Context) ServiceStats {
	s.mu.RLock()
	st := ServiceStats{
		Open:         s.opened && !s.closed,
		PendingSyncs: len(s.waiters),
	}
	if s.opened {
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	topics := make(map[string]struct{}, len(s.callbacks)+len(s.channels))
	for repo, subs := range s.callbacks {
		st.CallbackCount += len(subs)
		topics[repo] = struct{}{}
	}
	for repo, subs := range s.channels {
		st.ChannelCount += len(subs)
		topics[repo] = struct{}{}
	}
	st.TopicCount = len(topics)
	s.mu.RUnlock()

	st.ActiveLocks = s.countKeys(ctx, lockKeyPrefix+"*")
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, eventStreamPrefix+"*", 100).Result()
		if err != nil {
			s.logger.Warn("Stats scan failed", zap.Error(err))
			break
		}
		st.ReplayStreams += len(keys)
		for _, key := range keys {
			if n, err := s.rdb.XLen(ctx, key).Result(); err == nil {
				st.ReplayedEvents += n
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return st
}

func (s *Service) countKeys(ctx context.Context, pattern string) int {
	var total int
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Warn("Key count scan failed",
				zap.String("pattern", pattern),
				zap.Error(err))
			return total
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return total
}
