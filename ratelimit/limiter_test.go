package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- 基本计数 ---

func TestSlidingLimiter_AllowsUpToMax(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 3, Window: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		res := l.Check("9876543210")
		require.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := l.Check("9876543210")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestSlidingLimiter_RejectionMessage(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 1, Window: time.Minute}, zap.NewNop())
	l.Check("caller")

	res := l.Check("caller")
	require.False(t, res.Allowed)
	assert.Equal(t, "Too many requests. Please try again in 1 minute(s).", res.Message)
	assert.False(t, res.ResetAt.IsZero())
}

func TestSlidingLimiter_WaitMinutesRoundsUp(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 1, Window: 5 * time.Minute}, zap.NewNop())
	l.Check("caller")

	res := l.Check("caller")
	require.False(t, res.Allowed)
	assert.Equal(t, "Too many requests. Please try again in 5 minute(s).", res.Message)
}

// --- 窗口过期 ---

func TestSlidingLimiter_FreshWindowAfterExpiry(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 2, Window: 30 * time.Millisecond}, zap.NewNop())

	l.Check("caller")
	l.Check("caller")
	require.False(t, l.Check("caller").Allowed)

	time.Sleep(50 * time.Millisecond)

	res := l.Check("caller")
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

// --- 标识规范化 ---

func TestSlidingLimiter_IdentifierNormalization(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 2, Window: time.Minute}, zap.NewNop())

	// 同一手机号的不同写法共享窗口
	l.Check("+91 98765-43210")
	l.Check("919876543210")

	res := l.Check("(91) 98765.43210")
	assert.False(t, res.Allowed)
}

func TestSlidingLimiter_IndependentIdentifiers(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 1, Window: time.Minute}, zap.NewNop())

	require.True(t, l.Check("caller-a").Allowed)
	require.False(t, l.Check("caller-a").Allowed)

	assert.True(t, l.Check("caller-b").Allowed)
}

// --- Cleanup ---

func TestSlidingLimiter_Cleanup(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 5, Window: 20 * time.Millisecond}, zap.NewNop())

	l.Check("stale-a")
	l.Check("stale-b")
	time.Sleep(40 * time.Millisecond)
	l.Check("active")

	assert.Equal(t, 2, l.Cleanup())
	assert.Len(t, l.windows, 1)
}

// --- 默认配置 ---

func TestSlidingLimiter_Defaults(t *testing.T) {
	l := NewSlidingLimiter(Config{}, nil)
	assert.Equal(t, 10, l.config.MaxRequests)
	assert.Equal(t, time.Minute, l.config.Window)

	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.MaxRequests)
	assert.Equal(t, time.Minute, cfg.Window)
}

// --- 并发 ---

func TestSlidingLimiter_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	l := NewSlidingLimiter(Config{MaxRequests: 10, Window: time.Minute}, zap.NewNop())

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("9876543210").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed.Load(),
		"one identifier must never exceed the window limit under concurrency")
}
