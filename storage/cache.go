package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

type snapshotBackend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Cache wraps the board snapshot read path with Redis-backed caching. The
// mutation service invalidates a board's entry after every committed change,
// so resyncing clients mostly hit Redis instead of Postgres.
type Cache struct {
	base  snapshotBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching snapshot reader using the provided Redis client
// and TTL.
func NewCache(base snapshotBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if snap, ok := c.loadFromCache(ctx, boardID); ok {
		return snap, nil
	}

	snap, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}

	c.store(ctx, boardID, snap)
	return snap, nil
}

// invalidationTombstone briefly poisons a board's slot after a commit. A read
// that hit Postgres before the commit may still be in flight; without the
// tombstone it could repopulate the slot with its stale snapshot right after
// the invalidation.
const invalidationTombstone = "invalidated"

const tombstoneTTL = 2 * time.Second

// Invalidate replaces a board's cached snapshot with a short-lived tombstone.
// Best effort: a failed write only means a stale read until the TTL expires.
func (c *Cache) Invalidate(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), invalidationTombstone, tombstoneTTL).Err()
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return domain.BoardSnapshot{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return domain.BoardSnapshot{}, false
	}
	if string(data) == invalidationTombstone {
		return domain.BoardSnapshot{}, false
	}
	var snap domain.BoardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return domain.BoardSnapshot{}, false
	}
	return snap, true
}

// store populates an empty slot only. SET NX loses to a live tombstone, so a
// snapshot read before the last commit can never overwrite the invalidation.
func (c *Cache) store(ctx context.Context, boardID string, snap domain.BoardSnapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.SetNX(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
