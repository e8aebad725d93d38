package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist remembers consumed challenge token ids until they expire.
type Blacklist interface {
	// Revoke marks jti consumed until exp. It reports false when jti was
	// already revoked.
	Revoke(ctx context.Context, jti string, exp time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

func ttlUntil(exp time.Time) time.Duration {
	ttl := time.Until(exp)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// RedisBlacklist keeps revoked ids as expiring keys.
type RedisBlacklist struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisBlacklist(rdb redis.UniversalClient, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "parcel:jti:"
	}
	return &RedisBlacklist{rdb: rdb, prefix: prefix}
}

func (b *RedisBlacklist) key(jti string) string { return b.prefix + jti }

func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, exp time.Time) (bool, error) {
	return b.rdb.SetNX(ctx, b.key(jti), "1", ttlUntil(exp)).Result()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.rdb.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MemoryBlacklist is the single-process Blacklist used when no redis address
// is configured.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]time.Time), now: time.Now}
}

func (b *MemoryBlacklist) Revoke(_ context.Context, jti string, exp time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep()
	if _, ok := b.entries[jti]; ok {
		return false, nil
	}
	b.entries[jti] = b.now().Add(ttlUntil(exp))
	return true, nil
}

func (b *MemoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.entries[jti]
	return ok && b.now().Before(until), nil
}

// sweep drops expired entries. Callers hold mu.
func (b *MemoryBlacklist) sweep() {
	now := b.now()
	for jti, until := range b.entries {
		if !now.Before(until) {
			delete(b.entries, jti)
		}
	}
}
