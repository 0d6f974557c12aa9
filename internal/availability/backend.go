package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend shares fetched sets between lanes (and, with Redis, between
// replicas) for a short TTL.
type Backend interface {
	Get(ctx context.Context, key string) (Set, bool, error)
	Put(ctx context.Context, key string, s Set, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	set     Set
	expires time.Time
}

// MemoryBackend is an in-process TTL map.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (Set, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return Set{}, false, nil
	}
	if m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return Set{}, false, nil
	}
	return e.set.clone(), true, nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, s Set, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.entries[key] = memoryEntry{set: s.clone(), expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

const redisKeyPrefix = "agialcal:availability:"

// RedisBackend stores sets as JSON strings with a Redis expiry.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis connects and pings, so a bad address fails at startup.
func DialRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) (Set, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Set{}, false, nil
	}
	if err != nil {
		return Set{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var s Set
	if err := json.Unmarshal(raw, &s); err != nil {
		return Set{}, false, fmt.Errorf("decode cached set %s: %w", key, err)
	}
	return s, true, nil
}

func (r *RedisBackend) Put(ctx context.Context, key string, s Set, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode set %s: %w", key, err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
