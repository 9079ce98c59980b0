package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- NormalizeKey ---

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Bukhar Ka ILAJ", "bukhar ka ilaj"},
		{"trim", "  fever remedy  ", "fever remedy"},
		{"collapse spaces", "fever   \t remedy", "fever remedy"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.in))
		})
	}
}

// --- Get / Set ---

func TestBoundedCache_SetGet(t *testing.T) {
	c := NewBounded[string](10, time.Minute, zap.NewNop())

	c.Set("Fever Remedy", "rest and fluids")

	// 语义相同的键共享槽位
	got, ok := c.Get("  fever   remedy ")
	require.True(t, ok)
	assert.Equal(t, "rest and fluids", got)

	_, ok = c.Get("unknown")
	assert.False(t, ok)
}

func TestBoundedCache_Overwrite(t *testing.T) {
	c := NewBounded[int](10, time.Minute, zap.NewNop())
	c.Set("k", 1)
	c.Set("k", 2)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, 1, c.Len())
}

func TestBoundedCache_TTLExpiry(t *testing.T) {
	c := NewBounded[string](10, 20*time.Millisecond, zap.NewNop())
	c.Set("k", "v")

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	// 惰性删除：过期后未命中且条目被移除
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// --- 容量与淘汰 ---

func TestBoundedCache_NeverExceedsCapacity(t *testing.T) {
	c := NewBounded[int](5, time.Minute, zap.NewNop())
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
		assert.LessOrEqual(t, c.Len(), 5)
	}
	assert.Equal(t, 5, c.Len())
}

func TestBoundedCache_EvictsLeastAccessed(t *testing.T) {
	c := NewBounded[int](3, time.Minute, zap.NewNop())
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// a 与 c 各命中一次，b 保持 0 次
	c.Get("a")
	c.Get("c")

	c.Set("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "least-accessed entry should be evicted")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "entry %q should survive eviction", k)
	}
}

func TestBoundedCache_EvictionTieBreaksOnOldest(t *testing.T) {
	c := NewBounded[int](2, time.Minute, zap.NewNop())
	c.Set("old", 1)
	time.Sleep(5 * time.Millisecond)
	c.Set("new", 2)

	// 两者 accessCount 相同，淘汰 storedAt 较旧者
	c.Set("next", 3)

	_, ok := c.Get("old")
	assert.False(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

// --- Cleanup / Clear ---

func TestBoundedCache_Cleanup(t *testing.T) {
	c := NewBounded[int](10, 20*time.Millisecond, zap.NewNop())
	c.Set("a", 1)
	c.Set("b", 2)

	time.Sleep(40 * time.Millisecond)
	c.Set("c", 3)

	assert.Equal(t, 2, c.Cleanup())
	assert.Equal(t, 1, c.Len())
}

func TestBoundedCache_Clear(t *testing.T) {
	c := NewBounded[int](10, time.Minute, zap.NewNop())
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

// --- 并发安全 ---

func TestBoundedCache_ConcurrentAccess(t *testing.T) {
	c := NewBounded[int](50, time.Minute, zap.NewNop())
	done := make(chan struct{})

	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				c.Set(fmt.Sprintf("key-%d", i%60), i)
				c.Get(fmt.Sprintf("key-%d", (i+g)%60))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.LessOrEqual(t, c.Len(), 50)
}
