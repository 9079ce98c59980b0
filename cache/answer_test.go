package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

func newTestAnswerCache(t *testing.T, withRedis bool) (*AnswerCache, *miniredis.Miniredis) {
	t.Helper()
	local := NewBounded[*types.Answer](16, time.Minute, zap.NewNop())
	if !withRedis {
		return NewAnswerCache(local, nil, time.Minute, zap.NewNop()), nil
	}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewAnswerCache(local, rdb, time.Minute, zap.NewNop()), mr
}

// --- Key ---

func TestAnswerCache_Key(t *testing.T) {
	c, _ := newTestAnswerCache(t, false)

	// 规范化后相同的查询映射到同一键
	k1 := c.Key(types.LangHindi, "Bukhar ka  ilaj")
	k2 := c.Key(types.LangHindi, "  bukhar ka ilaj ")
	assert.Equal(t, k1, k2)

	// 语言参与键的派生
	k3 := c.Key(types.LangEnglish, "bukhar ka ilaj")
	assert.NotEqual(t, k1, k3)

	assert.Len(t, k1, 32)
}

// --- 纯本地模式 ---

func TestAnswerCache_LocalOnly(t *testing.T) {
	c, _ := newTestAnswerCache(t, false)
	ctx := context.Background()

	key := c.Key(types.LangEnglish, "fever remedy")
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Set(ctx, key, &types.Answer{Text: "rest and fluids", Language: types.LangEnglish})

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "rest and fluids", got.Text)
}

// --- Redis 二级 ---

func TestAnswerCache_RedisBackfill(t *testing.T) {
	c, mr := newTestAnswerCache(t, true)
	ctx := context.Background()

	key := c.Key(types.LangOdia, "jwara upachara")
	c.Set(ctx, key, &types.Answer{Text: "answer from redis", Language: types.LangOdia})

	// 清空本地层，模拟另一副本的冷启动
	c.local.Clear()

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "answer from redis", got.Text)

	// Redis 命中后回填本地
	local, ok := c.local.Get(key)
	require.True(t, ok)
	assert.Equal(t, "answer from redis", local.Text)

	assert.True(t, mr.Exists("sahayak:answer:"+key))
}

func TestAnswerCache_CorruptRedisEntryDropped(t *testing.T) {
	c, mr := newTestAnswerCache(t, true)
	ctx := context.Background()

	key := c.Key(types.LangEnglish, "broken entry")
	require.NoError(t, mr.Set("sahayak:answer:"+key, "{not-json"))

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	// 损坏条目被删除而不是反复解析失败
	assert.False(t, mr.Exists("sahayak:answer:"+key))
}

func TestAnswerCache_RedisDownDegradesToLocal(t *testing.T) {
	c, mr := newTestAnswerCache(t, true)
	ctx := context.Background()
	mr.Close()

	key := c.Key(types.LangEnglish, "redis is down")
	c.Set(ctx, key, &types.Answer{Text: "still works"})

	got, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "still works", got.Text)
}
