package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat_relay_service/internal/relay/domain"
	"chat_relay_service/pkg/database"
	"chat_relay_service/pkg/logger"

	"go.uber.org/zap"
)

// PresenceStore TTL registry of online identities; absence of a record means offline
type PresenceStore interface {
	// MarkOnline set or refresh the record with expiry now+ttl, owned by connection owner
	MarkOnline(ctx context.Context, identity, owner string, ttl time.Duration) error
	// Heartbeat re-mark online with the store TTL; recreates an expired record
	Heartbeat(ctx context.Context, identity, owner string) error
	// MarkOffline explicit removal on graceful disconnect. A record written by another
	// connection (a newer session, maybe on another node) is left alone.
	MarkOffline(ctx context.Context, identity, owner string) error
	IsOnline(ctx context.Context, identity string) (bool, error)
}

// MemoryPresenceStore in-process presence; passive expiry on read plus an optional sweep loop.
// Presence resets when the process restarts.
type MemoryPresenceStore struct {
	mu      sync.Mutex
	records map[string]domain.PresenceRecord
	ttl     time.Duration
	nodeID  string
	now     func() time.Time
}

// NewMemoryPresenceStore create a MemoryPresenceStore with default ttl for heartbeats
func NewMemoryPresenceStore(ttl time.Duration, nodeID string) *MemoryPresenceStore {
	return &MemoryPresenceStore{
		records: make(map[string]domain.PresenceRecord),
		ttl:     ttl,
		nodeID:  nodeID,
		now:     time.Now,
	}
}

// SetClock replace the time source
func (s *MemoryPresenceStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryPresenceStore) MarkOnline(_ context.Context, identity, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[identity] = domain.PresenceRecord{
		Identity:  identity,
		State:     domain.PresenceOnline,
		NodeID:    s.nodeID,
		Owner:     owner,
		ExpiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryPresenceStore) Heartbeat(ctx context.Context, identity, owner string) error {
	return s.MarkOnline(ctx, identity, owner, s.ttl)
}

func (s *MemoryPresenceStore) MarkOffline(_ context.Context, identity, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[identity]; ok && rec.OwnedBy(owner) {
		delete(s.records, identity)
	}
	return nil
}

func (s *MemoryPresenceStore) IsOnline(_ context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return false, nil
	}
	if !rec.Alive(s.now()) {
		delete(s.records, identity)
		return false, nil
	}
	return true, nil
}

// Sweep drop expired records, returns how many were removed
func (s *MemoryPresenceStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, rec := range s.records {
		if !rec.Alive(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweep every interval until ctx is done (blocking)
func (s *MemoryPresenceStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Log.Debug("presence sweep", zap.Int("expired", n))
			}
		}
	}
}

// RedisPresenceStore presence shared across relay nodes; expiry is the redis key TTL
type RedisPresenceStore struct {
	repo      database.RedisRepository[domain.PresenceRecord]
	ttl       time.Duration
	keyPrefix string
	nodeID    string
}

// NewRedisPresenceStore create a RedisPresenceStore over a typed redis repository
func NewRedisPresenceStore(repo database.RedisRepository[domain.PresenceRecord], ttl time.Duration, keyPrefix, nodeID string) *RedisPresenceStore {
	return &RedisPresenceStore{
		repo:      repo,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		nodeID:    nodeID,
	}
}

func (s *RedisPresenceStore) key(identity string) string {
	return s.keyPrefix + identity
}

func (s *RedisPresenceStore) MarkOnline(ctx context.Context, identity, owner string, ttl time.Duration) error {
	rec := domain.PresenceRecord{
		Identity:  identity,
		State:     domain.PresenceOnline,
		NodeID:    s.nodeID,
		Owner:     owner,
		ExpiresAt: time.Now().Add(ttl),
	}
	// SET ... EX 會同時建立或覆蓋, 過期後的 heartbeat 也會重建
	return s.repo.Set(ctx, s.key(identity), rec, ttl)
}

func (s *RedisPresenceStore) Heartbeat(ctx context.Context, identity, owner string) error {
	return s.MarkOnline(ctx, identity, owner, s.ttl)
}

func (s *RedisPresenceStore) MarkOffline(ctx context.Context, identity, owner string) error {
	// WATCH 之後比對 owner 再 DEL, 別的 node 的新連線不會被刪掉
	deleted, err := s.repo.DelIf(ctx, s.key(identity), func(rec domain.PresenceRecord) bool {
		return rec.OwnedBy(owner)
	})
	if err != nil {
		return err
	}
	if !deleted {
		logger.Log.Debug("presence kept, owned by another connection", zap.String("identity", identity), zap.String("owner", owner))
	}
	return nil
}

func (s *RedisPresenceStore) IsOnline(ctx context.Context, identity string) (bool, error) {
	return s.repo.Exists(ctx, s.key(identity))
}

// Lookup the raw record, ok=false when offline
func (s *RedisPresenceStore) Lookup(ctx context.Context, identity string) (domain.PresenceRecord, bool, error) {
	rec, err := s.repo.Get(ctx, s.key(identity))
	if errors.Is(err, database.ErrRedisNil) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}
