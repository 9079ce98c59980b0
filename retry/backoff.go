// Package retry 提供带抖动的指数退避重试，包裹单个上游调用。
// 与熔断器按包裹方式组合：熔断在最外层，重试在最内层贴着真正的上游调用。
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// Policy 重试策略配置
type Policy struct {
	// MaxAttempts 最大尝试次数（含首次，最少 1）
	MaxAttempts int

	// InitialDelay 初始延迟
	InitialDelay time.Duration

	// MaxDelay 最大延迟
	MaxDelay time.Duration

	// Multiplier 延迟倍增因子（指数退避）
	Multiplier float64

	// OnRetry 重试回调（observability 钩子）
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Executor 重试执行器
type Executor struct {
	policy Policy
	logger *zap.Logger
}

// NewExecutor 创建重试执行器
func NewExecutor(policy Policy, logger *zap.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 200 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{policy: policy, logger: logger}
}

// Run 执行可失败操作。
// 只有瞬时错误（超时/网络/5xx/429）触发重试，其余错误立即透传，
// 不消耗重试次数。次数耗尽后抛出最后一次观察到的错误，末次尝试后无延迟。
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.delayFor(attempt - 1)

			e.logger.Debug("retrying upstream call",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if e.policy.OnRetry != nil {
				e.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				e.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !types.IsTransient(lastErr) {
			return lastErr
		}
	}

	e.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", e.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return lastErr
}

// delayFor 计算第 n 次重试前的延迟（n 从 0 开始）：
// min(maxDelay, initial * multiplier^n) 加最多 25% 的随机抖动，
// 避免多个并发调用方同步形成重试风暴。
func (e *Executor) delayFor(n int) time.Duration {
	delay := float64(e.policy.InitialDelay) * math.Pow(e.policy.Multiplier, float64(n))
	if delay > float64(e.policy.MaxDelay) {
		delay = float64(e.policy.MaxDelay)
	}
	delay += delay * 0.25 * rand.Float64()
	return time.Duration(delay)
}
