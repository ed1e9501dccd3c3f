package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
)

// Manager stores AnalysisState in Redis behind the circuit breaker, with a
// short-lived local read cache. Writes go to two keys: the state record
// under the analysis ID and a pointer from the repository path to that ID,
// both with the same TTL.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*cachedState
	cacheAccess map[string]time.Time // Track last access time for LRU
	maxCached   int
	cacheTTL    time.Duration
}

type cachedState struct {
	state    *AnalysisState
	cachedAt time.Time
}

// NewManager creates a state manager connected to the given Redis address.
func NewManager(redisAddr string, logger *zap.Logger) (*Manager, error) {
	redisPassword := os.Getenv("REDIS_PASSWORD")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Create circuit breaker wrapped client
	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewManagerWithClient(client, logger), nil
}

// NewManagerWithClient wraps an existing breaker-wrapped client. Used by
// tests and by callers that share a connection.
func NewManagerWithClient(client *circuitbreaker.RedisWrapper, logger *zap.Logger) *Manager {
	return &Manager{
		client:      client,
		logger:      logger,
		ttl:         24 * time.Hour, // Analysis state TTL
		localCache:  make(map[string]*cachedState),
		cacheAccess: make(map[string]time.Time),
		maxCached:   1000,
		cacheTTL:    30 * time.Second,
	}
}

// Update writes the state record and the repository pointer key. Transport
// failures propagate to the caller: a lost state write must not be silent.
func (m *Manager) Update(ctx context.Context, st *AnalysisState) error {
	if st == nil || st.AnalysisID == "" {
		return ErrInvalidState
	}
	if st.Status == "" {
		st.Status = StatusPending
	}
	if st.StartedAt.IsZero() {
		st.StartedAt = time.Now()
	}
	st.UpdatedAt = time.Now()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis state: %w", err)
	}

	key := m.stateKey(st.AnalysisID)
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save analysis state: %w", err)
	}

	if st.RepositoryPath != "" {
		pointerKey := m.repoKey(st.RepositoryPath)
		if err := m.client.Set(ctx, pointerKey, st.AnalysisID, m.ttl).Err(); err != nil {
			return fmt.Errorf("failed to save repository pointer: %w", err)
		}
	}

	// Update local cache
	m.mu.Lock()
	m.localCache[st.AnalysisID] = &cachedState{state: st, cachedAt: time.Now()}
	m.cacheAccess[st.AnalysisID] = time.Now()
	m.cleanupLocalCache()
	metrics.SetStateCacheSize(len(m.localCache))
	m.mu.Unlock()

	m.logger.Debug("Analysis state updated",
		zap.String("analysis_id", st.AnalysisID),
		zap.String("status", st.Status),
		zap.Int("progress", st.Progress),
	)

	return nil
}

// Get retrieves the state for an analysis ID. Returns ErrStateNotFound when
// no record exists.
func (m *Manager) Get(ctx context.Context, analysisID string) (*AnalysisState, error) {
	// Check local cache first
	m.mu.RLock()
	if entry, ok := m.localCache[analysisID]; ok && time.Since(entry.cachedAt) < m.cacheTTL {
		m.mu.RUnlock()
		metrics.RecordStateCacheHit()
		m.mu.Lock()
		m.cacheAccess[analysisID] = time.Now()
		m.mu.Unlock()
		return entry.state, nil
	}
	m.mu.RUnlock()
	metrics.RecordStateCacheMiss()

	// Load from Redis
	data, err := m.client.Get(ctx, m.stateKey(analysisID)).Bytes()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get analysis state: %w", err)
	}

	var st AnalysisState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis state: %w", err)
	}

	// Update local cache and track access time
	m.mu.Lock()
	m.localCache[analysisID] = &cachedState{state: &st, cachedAt: time.Now()}
	m.cacheAccess[analysisID] = time.Now()
	m.cleanupLocalCache()
	metrics.SetStateCacheSize(len(m.localCache))
	m.mu.Unlock()

	return &st, nil
}

// GetByRepository resolves the repository pointer key and returns the
// current analysis state for that repository.
func (m *Manager) GetByRepository(ctx context.Context, repositoryPath string) (*AnalysisState, error) {
	analysisID, err := m.client.Get(ctx, m.repoKey(repositoryPath)).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to resolve repository pointer: %w", err)
	}

	return m.Get(ctx, analysisID)
}

// Delete removes the state record and, when it matches, the repository
// pointer.
func (m *Manager) Delete(ctx context.Context, analysisID string) error {
	st, err := m.Get(ctx, analysisID)
	if err != nil && err != ErrStateNotFound {
		return err
	}

	if err := m.client.Del(ctx, m.stateKey(analysisID)).Err(); err != nil {
		return fmt.Errorf("failed to delete analysis state: %w", err)
	}

	if st != nil && st.RepositoryPath != "" {
		pointerKey := m.repoKey(st.RepositoryPath)
		if current, err := m.client.Get(ctx, pointerKey).Result(); err == nil && current == analysisID {
			m.client.Del(ctx, pointerKey)
		}
	}

	m.mu.Lock()
	delete(m.localCache, analysisID)
	delete(m.cacheAccess, analysisID)
	metrics.SetStateCacheSize(len(m.localCache))
	m.mu.Unlock()

	return nil
}

// InvalidateCache drops the local cache entry so the next Get hits Redis.
func (m *Manager) InvalidateCache(analysisID string) {
	m.mu.Lock()
	delete(m.localCache, analysisID)
	delete(m.cacheAccess, analysisID)
	m.mu.Unlock()
}

// Wrapper returns the breaker-wrapped client for health checks.
func (m *Manager) Wrapper() *circuitbreaker.RedisWrapper {
	return m.client
}

// Private methods

func (m *Manager) stateKey(analysisID string) string {
	return fmt.Sprintf("analysis:state:%s", analysisID)
}

func (m *Manager) repoKey(repositoryPath string) string {
	return fmt.Sprintf("analysis:repo:%s", repositoryPath)
}

func (m *Manager) cleanupLocalCache() {
	// Remove oldest entries if cache is too large using LRU
	if len(m.localCache) <= m.maxCached {
		return
	}

	type accessEntry struct {
		id   string
		time time.Time
	}

	entries := make([]accessEntry, 0, len(m.localCache))
	for id := range m.localCache {
		accessTime, exists := m.cacheAccess[id]
		if !exists {
			accessTime = time.Time{}
		}
		entries = append(entries, accessEntry{id: id, time: accessTime})
	}

	// Sort by access time (oldest first)
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].time.Before(entries[i].time) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	// Remove the oldest half
	toRemove := m.maxCached / 2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.localCache, entries[i].id)
		delete(m.cacheAccess, entries[i].id)
		metrics.RecordStateCacheEviction()
	}
}
