package flags

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// SnapshotKey is the single well-known storage key holding the persisted flag
// map. Absence of the key means "use defaults".
const SnapshotKey = "portal:feature_flags"

// SnapshotStore persists the full flag map as one JSON object.
type SnapshotStore interface {
	// Load returns the persisted snapshot. found is false when no snapshot
	// has ever been written (or it was cleared).
	Load(ctx context.Context) (snapshot map[string]bool, found bool, err error)
	Save(ctx context.Context, snapshot map[string]bool) error
	Clear(ctx context.Context) error
}

// RedisSnapshotStore keeps the snapshot under SnapshotKey in Redis.
type RedisSnapshotStore struct {
	rdb *redis.Client
}

func NewRedisSnapshotStore(rdb *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb}
}

func (s *RedisSnapshotStore) Load(ctx context.Context) (map[string]bool, bool, error) {
	raw, err := s.rdb.Get(ctx, SnapshotKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load flag snapshot: %w", err)
	}

	var snapshot map[string]bool
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode flag snapshot: %w", err)
	}
	return snapshot, true, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snapshot map[string]bool) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode flag snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, SnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist flag snapshot: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, SnapshotKey).Err(); err != nil {
		return fmt.Errorf("failed to clear flag snapshot: %w", err)
	}
	return nil
}

// MemorySnapshotStore is the in-process fallback used by tests and
// deployments without Redis.
type MemorySnapshotStore struct {
	mu       sync.Mutex
	snapshot map[string]bool
	found    bool
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) Load(ctx context.Context) (map[string]bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.found {
		return nil, false, nil
	}
	copied := make(map[string]bool, len(s.snapshot))
	for k, v := range s.snapshot {
		copied[k] = v
	}
	return copied, true, nil
}

func (s *MemorySnapshotStore) Save(ctx context.Context, snapshot map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]bool, len(snapshot))
	for k, v := range snapshot {
		copied[k] = v
	}
	s.snapshot = copied
	s.found = true
	return nil
}

func (s *MemorySnapshotStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.found = false
	return nil
}
