// Package ratelimit 提供按标识（手机号/IP）的滑动窗口限流，
// 作为管线入口的闸门。参考计费之外的顾问式限流：并发下计数近似即可，
// 但任何标识都不会超限超过一个在途请求。
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config 限流配置
type Config struct {
	// MaxRequests 窗口内最大请求数
	MaxRequests int

	// Window 窗口时长
	Window time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxRequests: 10,
		Window:      time.Minute,
	}
}

// Result 单次检查结果
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Message   string    `json:"message,omitempty"`
}

// windowRecord 每个规范化标识一条记录。
// count 只统计落在 [windowStart, windowStart+window) 内的请求；
// 窗口外的请求重置记录。
type windowRecord struct {
	count       int
	windowStart time.Time
}

// SlidingLimiter 滑动窗口限流器
type SlidingLimiter struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*windowRecord
}

// NewSlidingLimiter 创建限流器
func NewSlidingLimiter(config Config, logger *zap.Logger) *SlidingLimiter {
	if config.MaxRequests <= 0 {
		config.MaxRequests = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlidingLimiter{
		config:  config,
		logger:  logger,
		windows: make(map[string]*windowRecord),
	}
}

// normalizeIdentifier 标识规范化：去空白和常见标点，
// 让 "+91 98765-43210" 和 "919876543210" 共享同一窗口。
func normalizeIdentifier(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch r {
		case ' ', '-', '+', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// Check 检查并记账一次请求。
// 首个请求或窗口已过期时开新窗口 count=1；
// 活动窗口内 count >= MaxRequests 则拒绝并给出按整分钟向上取整的等待提示。
func (l *SlidingLimiter) Check(identifier string) Result {
	id := normalizeIdentifier(identifier)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.windows[id]
	if !ok || now.Sub(rec.windowStart) >= l.config.Window {
		l.windows[id] = &windowRecord{count: 1, windowStart: now}
		return Result{
			Allowed:   true,
			Remaining: l.config.MaxRequests - 1,
			ResetAt:   now.Add(l.config.Window),
		}
	}

	resetAt := rec.windowStart.Add(l.config.Window)
	if rec.count >= l.config.MaxRequests {
		waitMinutes := int(math.Ceil(time.Until(resetAt).Minutes()))
		if waitMinutes < 1 {
			waitMinutes = 1
		}
		l.logger.Info("rate limit exceeded",
			zap.String("identifier", id),
			zap.Int("count", rec.count),
		)
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
			Message:   fmt.Sprintf("Too many requests. Please try again in %d minute(s).", waitMinutes),
		}
	}

	rec.count++
	return Result{
		Allowed:   true,
		Remaining: l.config.MaxRequests - rec.count,
		ResetAt:   resetAt,
	}
}

// Cleanup 清除窗口已过期的记录，把内存限制在活跃标识上。
func (l *SlidingLimiter) Cleanup() int {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, rec := range l.windows {
		if now.Sub(rec.windowStart) >= l.config.Window {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// StartSweeper 启动后台清理循环，ctx 取消时退出
func (l *SlidingLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
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
				if n := l.Cleanup(); n > 0 {
					l.logger.Debug("rate limiter sweep completed", zap.Int("removed", n))
				}
			}
		}
	}()
}
