// Package inbox records which messages a queue has already processed so that
// redelivered events are skipped.
package inbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"logistics/internal/config"
	"logistics/internal/constants"
)

type Store interface {
	Seen(ctx context.Context, queue, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, queue, messageID string) error
}

func key(queue, messageID string) string {
	return constants.CacheKeyPrefixInbox + queue + ":" + messageID
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Seen(ctx context.Context, queue, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(queue, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed uses SET NX so the first marker (and its TTL) wins.
func (s *RedisStore) MarkProcessed(ctx context.Context, queue, messageID string) error {
	if err := s.client.SetNX(ctx, key(queue, messageID), time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SetNX failed: %w", err)
	}
	return nil
}

// Size counts the markers of a queue, or of all queues when queue is empty.
func (s *RedisStore) Size(ctx context.Context, queue string) (int, error) {
	pattern := constants.CacheKeyPrefixInbox + "*"
	if queue != "" {
		pattern = constants.CacheKeyPrefixInbox + queue + ":*"
	}
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]time.Time)}
}

func (s *MemoryStore) Seen(ctx context.Context, queue, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(queue, messageID)
	expires, ok := s.entries[k]
	if !ok {
		return false, nil
	}
	if s.ttl > 0 && !s.now().Before(expires) {
		delete(s.entries, k)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, queue, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(queue, messageID)
	if _, ok := s.entries[k]; !ok {
		s.entries[k] = s.now().Add(s.ttl)
	}
	return nil
}

func (s *MemoryStore) Size(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := constants.CacheKeyPrefixInbox
	if queue != "" {
		prefix += queue + ":"
	}
	n := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

// New builds the store selected by cfg. It returns nil when the inbox is
// disabled.
func New(cfg config.InboxConfig, client *redis.Client, cb config.CircuitBreakerConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	switch strings.ToLower(cfg.Store) {
	case constants.StoreTypeRedis:
		if client == nil {
			return nil, fmt.Errorf("redis inbox requires a redis client")
		}
		return NewCircuitBreakerStore(NewRedisStore(client, ttl), cb), nil
	case constants.StoreTypeMemory, "":
		return NewMemoryStore(ttl), nil
	default:
		return nil, fmt.Errorf("unknown inbox store: %s", cfg.Store)
	}
}
