package common

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// MemoryNX is a process local stand-in for Redis SETNX, used when no Redis
// URL is configured. Keys expire lazily.
type MemoryNX struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewMemoryNX returns an empty store.
func NewMemoryNX() *MemoryNX {
	return &MemoryNX{keys: map[string]time.Time{}, now: time.Now}
}

// SetNX stores key when absent or expired and reports whether it did.
func (m *MemoryNX) SetNX(ctx context.Context, key string, _ interface{}, expiration time.Duration) *redis.BoolCmd {
	if err := ctx.Err(); err != nil {
		return redis.NewBoolResult(false, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return redis.NewBoolResult(false, nil)
	}
	var exp time.Time
	if expiration > 0 {
		exp = now.Add(expiration)
	}
	m.keys[key] = exp
	if len(m.keys) > 4096 {
		m.sweepLocked(now)
	}
	return redis.NewBoolResult(true, nil)
}

func (m *MemoryNX) sweepLocked(now time.Time) {
	for k, exp := range m.keys {
		if !exp.IsZero() && !now.Before(exp) {
			delete(m.keys, k)
		}
	}
}

// Del removes keys and reports how many existed.
func (m *MemoryNX) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.keys[k]; ok {
			delete(m.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
