package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// AnswerCache 最终答案的多级缓存：本地有界缓存 + 可选 Redis 二级。
// 本地层吸收单实例热点，Redis 层让多副本共享同一答案。
type AnswerCache struct {
	local    *BoundedCache[*types.Answer]
	redis    *redis.Client
	redisTTL time.Duration
	logger   *zap.Logger
}

// NewAnswerCache 创建答案缓存。rdb 为 nil 时退化为纯本地缓存。
func NewAnswerCache(local *BoundedCache[*types.Answer], rdb *redis.Client, redisTTL time.Duration, logger *zap.Logger) *AnswerCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if redisTTL <= 0 {
		redisTTL = time.Hour
	}
	return &AnswerCache{
		local:    local,
		redis:    rdb,
		redisTTL: redisTTL,
		logger:   logger,
	}
}

// Key 由语言 + 规范化查询文本生成缓存键
func (c *AnswerCache) Key(lang types.Language, query string) string {
	sum := sha256.Sum256([]byte(string(lang) + "|" + NormalizeKey(query)))
	return hex.EncodeToString(sum[:16])
}

// Get 先查本地，再查 Redis；Redis 命中时回填本地
func (c *AnswerCache) Get(ctx context.Context, key string) (*types.Answer, bool) {
	if ans, ok := c.local.Get(key); ok {
		return ans, true
	}

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("redis cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var ans types.Answer
	if err := json.Unmarshal(data, &ans); err != nil {
		c.logger.Warn("corrupt redis cache entry dropped", zap.String("key", key))
		c.redis.Del(ctx, c.redisKey(key))
		return nil, false
	}

	c.local.Set(key, &ans)
	return &ans, true
}

// Set 写入两级缓存。Redis 写失败只记日志，不影响请求。
func (c *AnswerCache) Set(ctx context.Context, key string, ans *types.Answer) {
	c.local.Set(key, ans)

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(ans)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(key), data, c.redisTTL).Err(); err != nil {
		c.logger.Debug("redis cache write failed", zap.Error(err))
	}
}

func (c *AnswerCache) redisKey(key string) string {
	return "sahayak:answer:" + key
}
