package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// AnswerCacheConfig configures the answer cache.
type AnswerCacheConfig struct {
	// Enabled turns caching on.
	Enabled bool
	// TTL is the cache entry lifetime.
	TTL time.Duration
	// KeyPrefix prefixes every cache key.
	KeyPrefix string
}

// CacheRedisClient is the subset of the Redis API the answer cache
// uses, satisfied by *goredis.Client.
type CacheRedisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// AnswerCache caches passed answer responses in Redis. Blocked
// responses are never cached; the follow-up jobs they trigger must run
// on every occurrence.
type AnswerCache struct {
	redis  CacheRedisClient
	config *AnswerCacheConfig
}

// NewAnswerCache creates an answer cache.
func NewAnswerCache(redis CacheRedisClient, config *AnswerCacheConfig) *AnswerCache {
	if config == nil {
		config = &AnswerCacheConfig{
			Enabled:   false,
			TTL:       1 * time.Hour,
			KeyPrefix: "answerd:answer:",
		}
	}
	return &AnswerCache{
		redis:  redis,
		config: config,
	}
}

// cacheKey hashes the org, mode and query into a stable key.
func (c *AnswerCache) cacheKey(orgID, mode, query string) string {
	hash := sha256.Sum256([]byte(orgID + "\x00" + mode + "\x00" + query))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// Get returns the cached response for the query, or nil on a miss.
// Cache failures degrade to a miss.
func (c *AnswerCache) Get(ctx context.Context, orgID, mode, query string) *AnswerQueryResponse {
	if !c.config.Enabled || c.redis == nil {
		return nil
	}

	key := c.cacheKey(orgID, mode, query)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("failed to get from answer cache", "error", err.Error(), "key", key)
		}
		return nil
	}

	var resp AnswerQueryResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		logger.Warnw("failed to unmarshal cached answer", "error", err.Error(), "key", key)
		return nil
	}

	logger.Infow("answer cache hit", "org_id", orgID, "mode", mode, "key", key)
	return &resp
}

// Set caches a passed response. Blocked responses are skipped.
func (c *AnswerCache) Set(ctx context.Context, orgID, mode, query string, resp *AnswerQueryResponse) {
	if !c.config.Enabled || c.redis == nil || resp == nil {
		return
	}
	if resp.QualityContract != nil && resp.QualityContract.Blocked() {
		return
	}

	data, err := sonic.Marshal(resp)
	if err != nil {
		logger.Warnw("failed to marshal answer for caching", "error", err.Error())
		return
	}

	key := c.cacheKey(orgID, mode, query)
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set answer cache", "error", err.Error(), "key", key)
		return
	}

	logger.Debugw("cached answer", "org_id", orgID, "mode", mode, "key", key, "ttl", c.config.TTL)
}
