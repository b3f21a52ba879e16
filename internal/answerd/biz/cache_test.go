package biz_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/answerd/internal/answerd/biz"
)

// stubCacheRedis keeps values in memory behind the same command surface
// the real client exposes.
type stubCacheRedis struct {
	data    map[string]string
	setKeys []string
	getErr  error
	setErr  error
}

func newStubCacheRedis() *stubCacheRedis {
	return &stubCacheRedis{data: make(map[string]string)}
}

func (s *stubCacheRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	if s.getErr != nil {
		return goredis.NewStringResult("", s.getErr)
	}
	v, ok := s.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (s *stubCacheRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	if s.setErr != nil {
		return goredis.NewStatusResult("", s.setErr)
	}
	b, _ := value.([]byte)
	s.data[key] = string(b)
	s.setKeys = append(s.setKeys, key)
	return goredis.NewStatusResult("OK", nil)
}

var _ biz.CacheRedisClient = (*stubCacheRedis)(nil)

func enabledCacheConfig() *biz.AnswerCacheConfig {
	return &biz.AnswerCacheConfig{
		Enabled:   true,
		TTL:       time.Hour,
		KeyPrefix: "answerd:answer:",
	}
}

func passedResponse(answer string) *biz.AnswerQueryResponse {
	return &biz.AnswerQueryResponse{
		Answer:          answer,
		Confidence:      0.9,
		Mode:            biz.ModeAsk,
		QualityContract: &biz.QualityContract{Status: biz.StatusPassed},
	}
}

func TestAnswerCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		redis := newStubCacheRedis()
		cache := biz.NewAnswerCache(redis, enabledCacheConfig())

		cache.Set(ctx, "org-1", biz.ModeAsk, "query", passedResponse("cached answer"))

		got := cache.Get(ctx, "org-1", biz.ModeAsk, "query")
		require.NotNil(t, got)
		assert.Equal(t, "cached answer", got.Answer)
		assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	})

	t.Run("blocked responses are never cached", func(t *testing.T) {
		redis := newStubCacheRedis()
		cache := biz.NewAnswerCache(redis, enabledCacheConfig())

		blocked := passedResponse(biz.FallbackAnswer)
		blocked.QualityContract.Status = biz.StatusBlocked

		cache.Set(ctx, "org-1", biz.ModeAsk, "query", blocked)
		assert.Empty(t, redis.setKeys)
		assert.Nil(t, cache.Get(ctx, "org-1", biz.ModeAsk, "query"))
	})

	t.Run("keys differ per org, mode and query", func(t *testing.T) {
		redis := newStubCacheRedis()
		cache := biz.NewAnswerCache(redis, enabledCacheConfig())

		cache.Set(ctx, "org-1", biz.ModeAsk, "query", passedResponse("a"))
		cache.Set(ctx, "org-2", biz.ModeAsk, "query", passedResponse("b"))
		cache.Set(ctx, "org-1", biz.ModeSummarize, "query", passedResponse("c"))
		cache.Set(ctx, "org-1", biz.ModeAsk, "other query", passedResponse("d"))

		require.Len(t, redis.setKeys, 4)
		seen := make(map[string]struct{})
		for _, key := range redis.setKeys {
			assert.Contains(t, key, "answerd:answer:")
			seen[key] = struct{}{}
		}
		assert.Len(t, seen, 4)
	})

	t.Run("redis failures degrade to a miss", func(t *testing.T) {
		redis := newStubCacheRedis()
		redis.getErr = errors.New("connection reset")
		cache := biz.NewAnswerCache(redis, enabledCacheConfig())

		assert.Nil(t, cache.Get(ctx, "org-1", biz.ModeAsk, "query"))
	})

	t.Run("disabled cache is inert", func(t *testing.T) {
		redis := newStubCacheRedis()
		config := enabledCacheConfig()
		config.Enabled = false
		cache := biz.NewAnswerCache(redis, config)

		cache.Set(ctx, "org-1", biz.ModeAsk, "query", passedResponse("a"))
		assert.Empty(t, redis.setKeys)
		assert.Nil(t, cache.Get(ctx, "org-1", biz.ModeAsk, "query"))
	})

	t.Run("nil response is skipped", func(t *testing.T) {
		redis := newStubCacheRedis()
		cache := biz.NewAnswerCache(redis, enabledCacheConfig())

		cache.Set(ctx, "org-1", biz.ModeAsk, "query", nil)
		assert.Empty(t, redis.setKeys)
	})
}
