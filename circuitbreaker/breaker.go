// Package circuitbreaker 提供三态熔断器，包裹所有不可靠上游
// （推理服务、生成模型、文档存储）。每个受保护依赖恰好一个实例，
// 生命周期与进程一致；状态只由 Execute 内部的转换函数修改。
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// FailureThreshold 滚动窗口内触发熔断的失败次数
	FailureThreshold int

	// MonitorWindow 失败统计的滚动窗口。
	// 失败记账用时间戳序列而不是简单计数器，窗口外的突发不计入阈值。
	MonitorWindow time.Duration

	// ResetTimeout 熔断恢复等待时间（Open → HalfOpen）
	ResetTimeout time.Duration

	// HalfOpenMaxAttempts 半开状态恢复所需的连续探测成功次数
	HalfOpenMaxAttempts int

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		MonitorWindow:       time.Minute,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 2,
	}
}

// Stats 熔断器当前统计（随熔断错误一并返回）
type Stats struct {
	State             string    `json:"state"`
	RecentFailures    int       `json:"recent_failures"`
	NextAttemptAt     time.Time `json:"next_attempt_at,omitempty"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
}

// Breaker 熔断器
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureTimestamps []time.Time // 滚动窗口内的失败时间戳，有序
	nextAttemptAt     time.Time
	halfOpenSuccesses int
	probeInFlight     bool
}

// New 创建熔断器。name 为受保护的上游依赖名，用于日志与错误标注。
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.MonitorWindow <= 0 {
		config.MonitorWindow = time.Minute
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxAttempts <= 0 {
		config.HalfOpenMaxAttempts = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute 执行受保护调用。
// 熔断打开时立即返回 CIRCUIT_OPEN 错误（携带当前统计），不触碰上游。
// 与 retry 组合时熔断在最外层：打开的熔断在任何重试延迟之前就短路。
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.beforeCall()
	if err != nil {
		return err
	}

	callErr := fn(ctx)

	// 主动取消不算上游失败，也不算恢复成功
	if callErr != nil && ctx.Err() == context.Canceled {
		b.abortProbe(probe)
		return callErr
	}

	if callErr == nil || !types.IsTransient(callErr) {
		// 成功，或错误与上游健康无关（客户端错误不计入熔断）
		b.onSuccess(probe, callErr == nil)
	} else {
		b.onFailure(probe)
	}
	return callErr
}

// State 返回当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot 返回当前统计快照
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Breaker) statsLocked() Stats {
	return Stats{
		State:             b.state.String(),
		RecentFailures:    len(b.failureTimestamps),
		NextAttemptAt:     b.nextAttemptAt,
		HalfOpenSuccesses: b.halfOpenSuccesses,
	}
}

// beforeCall 调用前检查。返回值表示本次调用是否为半开探测。
func (b *Breaker) beforeCall() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if time.Now().Before(b.nextAttemptAt) {
			return false, b.openError()
		}
		// 冷却结束后的下一个调用作为探测放行
		b.setState(StateHalfOpen)
		b.halfOpenSuccesses = 0
		b.probeInFlight = true
		b.logger.Info("circuit breaker half-open, sending probe",
			zap.String("upstream", b.name))
		return true, nil

	case StateHalfOpen:
		// 同一时刻只允许一个探测在途，两个并发探测不能同时"赢得"恢复
		if b.probeInFlight {
			return false, b.openError()
		}
		b.probeInFlight = true
		return true, nil
	}

	return false, fmt.Errorf("unknown breaker state: %v", b.state)
}

// openError 构造熔断快速失败错误，携带当前统计
func (b *Breaker) openError() error {
	stats := b.statsLocked()
	return types.NewError(types.ErrCircuitOpen,
		fmt.Sprintf("circuit breaker open for %s (recent_failures=%d, next_attempt_at=%s)",
			b.name, stats.RecentFailures, stats.NextAttemptAt.Format(time.RFC3339))).
		WithUpstream(b.name)
}

// abortProbe 探测因调用方取消而中止：不改变状态，只释放探测名额
func (b *Breaker) abortProbe(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// onSuccess 成功记账
func (b *Breaker) onSuccess(probe bool, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		// 成功逐步治愈部分劣化的依赖：弹出最旧的失败时间戳，不低于零
		if healthy && len(b.failureTimestamps) > 0 {
			b.failureTimestamps = b.failureTimestamps[1:]
		}

	case StateHalfOpen:
		b.probeInFlight = false
		if !healthy {
			// 客户端错误的探测既不算恢复也不算失败
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.HalfOpenMaxAttempts {
			b.logger.Info("circuit breaker recovered",
				zap.String("upstream", b.name),
				zap.Int("probe_successes", b.halfOpenSuccesses),
			)
			b.setState(StateClosed)
			b.failureTimestamps = nil
			b.halfOpenSuccesses = 0
		}

	case StateOpen:
		// 打开状态不应有调用完成
		if probe {
			b.probeInFlight = false
		}
	}
}

// onFailure 失败记账。每次失败先把时间戳序列修剪到滚动窗口内。
func (b *Breaker) onFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		b.pruneLocked(now)
		b.failureTimestamps = append(b.failureTimestamps, now)
		if len(b.failureTimestamps) >= b.config.FailureThreshold {
			b.logger.Warn("circuit breaker opened",
				zap.String("upstream", b.name),
				zap.Int("failures", len(b.failureTimestamps)),
				zap.Duration("reset_timeout", b.config.ResetTimeout),
			)
			b.setState(StateOpen)
			b.nextAttemptAt = now.Add(b.config.ResetTimeout)
		}

	case StateHalfOpen:
		// 探测失败立即重新打开
		b.probeInFlight = false
		b.logger.Warn("circuit breaker probe failed, reopening",
			zap.String("upstream", b.name))
		b.setState(StateOpen)
		b.nextAttemptAt = now.Add(b.config.ResetTimeout)
		b.halfOpenSuccesses = 0

	case StateOpen:
		// 打开状态不应有调用完成
	}
}

// pruneLocked 把失败时间戳修剪到 [now-MonitorWindow, now]。调用方必须持锁。
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.MonitorWindow)
	i := 0
	for i < len(b.failureTimestamps) && b.failureTimestamps[i].Before(cutoff) {
		i++
	}
	b.failureTimestamps = b.failureTimestamps[i:]
}

// setState 设置状态并触发回调。调用方必须持锁。
func (b *Breaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// Reset 手动复位到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureTimestamps = nil
	b.halfOpenSuccesses = 0
	b.probeInFlight = false

	b.logger.Info("circuit breaker reset",
		zap.String("upstream", b.name),
		zap.String("from_state", oldState.String()),
	)
	if b.config.OnStateChange != nil && oldState != StateClosed {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}
