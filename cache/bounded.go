// Package cache 提供管线共享的有界 TTL 缓存。
// 检索器与嵌入客户端各持有一个独立实例；编排器负责注入，不使用全局单例。
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// entry 缓存条目。仅由所属缓存的 Get/Set 修改。
type entry[V any] struct {
	value       V
	storedAt    time.Time
	accessCount uint64
}

// BoundedCache 带容量上限和 TTL 的泛型缓存。
// 淘汰规则：accessCount 最低者优先，相同时取 storedAt 最旧者 ——
// 近似 LRU，偏向淘汰"又旧又少用"的条目而不是"旧但常命中"的条目。
type BoundedCache[V any] struct {
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*entry[V]

	logger *zap.Logger
}

// NewBounded 创建有界缓存
func NewBounded[V any](capacity int, ttl time.Duration, logger *zap.Logger) *BoundedCache[V] {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoundedCache[V]{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*entry[V]),
		logger:   logger,
	}
}

// NormalizeKey 键规范化（去空白、小写、压缩空白），
// 使语义相同的查询落在同一槽位。纯函数，每次查找/写入前调用。
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.Join(strings.Fields(key), " ")
}

// Get 查询缓存。未命中或已过期返回 false；过期条目惰性删除。
func (c *BoundedCache[V]) Get(key string) (V, bool) {
	var zero V
	k := NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return zero, false
	}
	if time.Since(e.storedAt) > c.ttl {
		delete(c.entries, k)
		return zero, false
	}

	e.accessCount++
	return e.value, true
}

// Set 写入缓存。缓存已满且键不存在时，恰好淘汰一个条目。
func (c *BoundedCache[V]) Set(key string, value V) {
	k := NormalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[k]; ok {
		e.value = value
		e.storedAt = time.Now()
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOne()
	}

	c.entries[k] = &entry[V]{value: value, storedAt: time.Now()}
}

// evictOne 淘汰一个条目：accessCount 最低优先，其次 storedAt 最旧。
// 容量较小，插入时 O(n) 扫描即可精确执行该规则。调用方必须持锁。
func (c *BoundedCache[V]) evictOne() {
	var victim string
	var victimEntry *entry[V]

	for k, e := range c.entries {
		if victimEntry == nil ||
			e.accessCount < victimEntry.accessCount ||
			(e.accessCount == victimEntry.accessCount && e.storedAt.Before(victimEntry.storedAt)) {
			victim = k
			victimEntry = e
		}
	}

	if victimEntry != nil {
		delete(c.entries, victim)
	}
}

// Cleanup 主动清除所有过期条目，返回清除数量。
// 独立于请求路径，可与 Get/Set 并发调用。
func (c *BoundedCache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// Len 返回当前条目数
func (c *BoundedCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear 清空缓存
func (c *BoundedCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// StartSweeper 启动后台清理循环，ctx 取消时退出。
// 清理定时器与请求路径解耦，绝不阻塞请求。
func (c *BoundedCache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Cleanup(); n > 0 {
					c.logger.Debug("cache sweep completed", zap.Int("evicted", n))
				}
			}
		}
	}()
}
