// Package locks guards a plan date against concurrent sequence rewrites.
// The lock is advisory and short-lived; a second writer is rejected rather
// than queued.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Locker interface {
	// TryLock returns true if the caller now holds the lock for key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Memory is a process-local Locker for single-node runs and tests.
type Memory struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{until: map[string]time.Time{}}
}

func (m *Memory) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, held := m.until[key]; held && time.Now().Before(exp) {
		return false, nil
	}
	m.until[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *Memory) Unlock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.until, key)
	return nil
}

// Redis locks across instances with SET NX PX. The TTL bounds how long a
// crashed holder can block other writers.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, "lock:"+key, "1", ttl).Result()
}

func (r *Redis) Unlock(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, "lock:"+key).Err()
}
