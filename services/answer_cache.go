package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"document-qa-platform/internal/logger"
	"document-qa-platform/models"
)

// RedisAnswerCache memoizes query responses for a short TTL. It fails open:
// any Redis error is treated as a cache miss.
//
// Invalidation is generation-based: every key embeds a generation counter,
// and Invalidate bumps the counter so all prior entries become unreachable
// and age out via their TTL.
type RedisAnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

const answerCacheGenKey = "answer_cache:generation"

func NewRedisAnswerCache(client *redis.Client, ttlSeconds int) *RedisAnswerCache {
	return &RedisAnswerCache{client: client, ttl: time.Duration(ttlSeconds) * time.Second}
}

func cacheKey(req models.QueryRequest, generation string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", req.Query, req.SearchK, req.FileFilter)))
	return "answer_cache:" + generation + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisAnswerCache) generation(ctx context.Context) (string, bool) {
	gen, err := c.client.Get(ctx, answerCacheGenKey).Result()
	if err == redis.Nil {
		return "0", true
	}
	if err != nil {
		logger.Debug("Answer cache generation read failed", "error", err)
		return "", false
	}
	return gen, true
}

func (c *RedisAnswerCache) Get(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, bool) {
	gen, ok := c.generation(ctx)
	if !ok {
		return nil, false
	}

	raw, err := c.client.Get(ctx, cacheKey(req, gen)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("Answer cache read failed", "error", err)
		}
		return nil, false
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		logger.Debug("Answer cache entry corrupt", "error", err)
		return nil, false
	}
	return &resp, true
}

func (c *RedisAnswerCache) Set(ctx context.Context, req models.QueryRequest, resp *models.QueryResponse) {
	gen, ok := c.generation(ctx)
	if !ok {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(req, gen), raw, c.ttl).Err(); err != nil {
		logger.Debug("Answer cache write failed", "error", err)
	}
}

// Invalidate drops every cached answer, used when the collection is cleared
// so stale answers cannot cite deleted documents.
func (c *RedisAnswerCache) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, answerCacheGenKey).Err(); err != nil {
		logger.Debug("Answer cache invalidation failed", "error", err)
	}
}
