package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WithFallback 统一"先试真实调用，失败走启发式兜底"的组合子。
// 翻译、紧急检测与检索降级都走这里，避免同一模式散落各处。
// 主调用的错误只记日志；兜底自身出错才向上返回。
func WithFallback[T any](
	ctx context.Context,
	stage string,
	logger *zap.Logger,
	primary func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (T, error) {
	start := time.Now()
	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}
	// 调用方取消时直接返回，不再执行兜底
	if ctx.Err() != nil {
		var zero T
		return zero, ctx.Err()
	}

	logger.Warn("primary call failed, using fallback",
		zap.String("stage", stage),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return fallback(ctx)
}
