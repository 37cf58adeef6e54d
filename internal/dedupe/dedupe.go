// Package dedupe drops webhook deliveries that a platform retries.
package dedupe

import (
	"context"
	"sync"
	"time"

	"chatbridge/internal/redis"
)

// Store remembers delivery ids for a limited time.
type Store interface {
	// Seen records key and reports whether it had already been recorded.
	Seen(ctx context.Context, key string) (bool, error)
	// Forget removes key so a later delivery is processed again.
	Forget(ctx context.Context, key string) error
}

const defaultTTL = 10 * time.Minute

// Memory is a process-local Store.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]time.Time
	lastSweep time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]time.Time)}
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.ttl {
		for k, expires := range m.entries {
			if !now.Before(expires) {
				delete(m.entries, k)
			}
		}
		m.lastSweep = now
	}
	if expires, ok := m.entries[key]; ok && now.Before(expires) {
		return true, nil
	}
	m.entries[key] = now.Add(m.ttl)
	return false, nil
}

func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Redis is a Store shared by every process pointing at the same server.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "chatbridge:dedupe:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	stored, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl)
	if err != nil {
		return false, err
	}
	return !stored, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key)
}
