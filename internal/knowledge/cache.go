package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cachePrefix = "trebol:store:"

// CacheConfig configures the Redis read-through cache.
type CacheConfig struct {
	URL       string
	TTL       time.Duration
	Resources []string // logical resources eligible for caching
}

// CachedStore wraps a Store with a Redis read-through cache. Only the
// configured resources are cached; ticket lookups are never cached because
// their status changes as tickets sell. Redis failures fall through to the
// wrapped store.
type CachedStore struct {
	next      Store
	rdb       *redis.Client
	ttl       time.Duration
	resources map[string]bool
	logger    *zap.Logger
}

// NewCachedStore connects to Redis and wraps next.
func NewCachedStore(ctx context.Context, next Store, cfg CacheConfig, logger *zap.Logger) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newCachedStore(next, rdb, cfg, logger), nil
}

func newCachedStore(next Store, rdb *redis.Client, cfg CacheConfig, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	resources := make(map[string]bool, len(cfg.Resources))
	for _, r := range cfg.Resources {
		if r == ResourceTickets {
			continue
		}
		resources[r] = true
	}
	return &CachedStore{next: next, rdb: rdb, ttl: ttl, resources: resources, logger: logger}
}

// Fetch implements Store.
func (c *CachedStore) Fetch(ctx context.Context, q Query) Result {
	if !c.cacheable(q) {
		return c.next.Fetch(ctx, q)
	}
	key := cacheKey(q)

	start := time.Now()
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var records []json.RawMessage
		if jErr := json.Unmarshal(raw, &records); jErr == nil {
			return Result{Records: records, Elapsed: time.Since(start), Source: "cache"}
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	res := c.next.Fetch(ctx, q)
	if res.OK() {
		if data, mErr := json.Marshal(res.Records); mErr == nil {
			if sErr := c.rdb.Set(ctx, key, data, c.ttl).Err(); sErr != nil {
				c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(sErr))
			}
		}
	}
	return res
}

// Invalidate drops every cached record for resource.
func (c *CachedStore) Invalidate(ctx context.Context, resource string) error {
	iter := c.rdb.Scan(ctx, 0, cachePrefix+resource+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Close shuts down the Redis connection.
func (c *CachedStore) Close() error {
	return c.rdb.Close()
}

func (c *CachedStore) cacheable(q Query) bool {
	return q.Function == "" && c.resources[q.Resource]
}

// cacheKey is deterministic for equal queries.
func cacheKey(q Query) string {
	var b strings.Builder
	b.WriteString(cachePrefix)
	b.WriteString(q.Resource)
	b.WriteString(":")
	if q.Filter != nil {
		b.WriteString(q.Filter.Field)
		b.WriteString("=")
		b.WriteString(q.Filter.Value)
	}
	b.WriteString(":")
	cols := append([]string(nil), q.Select...)
	sort.Strings(cols)
	b.WriteString(strings.Join(cols, ","))
	b.WriteString(":")
	b.WriteString(strconv.Itoa(q.Limit))
	return b.String()
}
