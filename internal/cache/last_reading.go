// Package cache keeps hot per-user state in Redis in front of the reading
// store.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jengzang/geotrust/internal/config"
	"github.com/jengzang/geotrust/internal/engine"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const keyPrefix = "geotrust:last:"

// Client is the subset of *redis.Client the cache needs
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Open returns a Redis client for cfg, or nil when no address is configured
func Open(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, eris.Wrapf(err, "cache: ping redis %s", cfg.Addr)
	}
	return rc, nil
}

// LastReadingCache decorates a ReadingStore with a Redis copy of each user's
// last accepted reading. Redis failures degrade to the underlying store.
type LastReadingCache struct {
	engine.ReadingStore
	rc  Client
	ttl time.Duration
}

// NewLastReadingCache wraps store. A non-positive ttl keeps entries for a day.
func NewLastReadingCache(store engine.ReadingStore, rc Client, ttl time.Duration) *LastReadingCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &LastReadingCache{ReadingStore: store, rc: rc, ttl: ttl}
}

// SaveReading persists r and refreshes the cached reading when r is an
// accepted reading at least as new as the cached one
func (c *LastReadingCache) SaveReading(ctx context.Context, r models.ClassifiedReading) (models.ClassifiedReading, error) {
	saved, err := c.ReadingStore.SaveReading(ctx, r)
	if err != nil || !saved.Accepted() {
		return saved, err
	}

	cached, ok := c.get(ctx, saved.UserID)
	if ok && saved.Timestamp.Before(cached.Timestamp) {
		return saved, nil
	}
	c.set(ctx, saved.Reading)
	return saved, nil
}

// LastAccepted serves from Redis and fills it from the store on a miss
func (c *LastReadingCache) LastAccepted(ctx context.Context, userID int64) (*models.Reading, error) {
	if cached, ok := c.get(ctx, userID); ok {
		return &cached, nil
	}
	last, err := c.ReadingStore.LastAccepted(ctx, userID)
	if err != nil || last == nil {
		return last, err
	}
	c.set(ctx, *last)
	return last, nil
}

func (c *LastReadingCache) get(ctx context.Context, userID int64) (models.Reading, bool) {
	var r models.Reading
	s, err := c.rc.Get(ctx, key(userID)).Result()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("cache: redis get failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return r, false
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		zap.L().Warn("cache: discarding malformed entry", zap.Int64("user_id", userID), zap.Error(err))
		return r, false
	}
	return r, true
}

func (c *LastReadingCache) set(ctx context.Context, r models.Reading) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, key(r.UserID), string(b), c.ttl).Err(); err != nil {
		zap.L().Warn("cache: redis set failed", zap.Int64("user_id", r.UserID), zap.Error(err))
	}
}

func key(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}
