package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// --- WithFallback ---

func TestWithFallback_PrimarySucceeds(t *testing.T) {
	fallbackCalled := false
	got, err := WithFallback(context.Background(), "stage", zap.NewNop(),
		func(ctx context.Context) (string, error) { return "primary", nil },
		func(ctx context.Context) (string, error) {
			fallbackCalled = true
			return "fallback", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "primary", got)
	assert.False(t, fallbackCalled)
}

func TestWithFallback_PrimaryFails(t *testing.T) {
	got, err := WithFallback(context.Background(), "stage", zap.NewNop(),
		func(ctx context.Context) (string, error) { return "", errors.New("upstream down") },
		func(ctx context.Context) (string, error) { return "fallback", nil })
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
}

func TestWithFallback_FallbackErrorSurfaces(t *testing.T) {
	wantErr := errors.New("fallback broke too")
	_, err := WithFallback(context.Background(), "stage", zap.NewNop(),
		func(ctx context.Context) (bool, error) { return false, errors.New("primary broke") },
		func(ctx context.Context) (bool, error) { return false, wantErr })
	assert.Equal(t, wantErr, err)
}

func TestWithFallback_CancelledContextSkipsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fallbackCalled := false
	_, err := WithFallback(ctx, "stage", zap.NewNop(),
		func(ctx context.Context) (int, error) { return 0, errors.New("primary failed") },
		func(ctx context.Context) (int, error) {
			fallbackCalled = true
			return 42, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, fallbackCalled, "cancellation must not trigger the fallback")
}

func TestWithFallback_LogsStageAndElapsed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	got, err := WithFallback(context.Background(), "translate", zap.New(core),
		func(ctx context.Context) (string, error) { return "", errors.New("upstream down") },
		func(ctx context.Context) (string, error) { return "fallback", nil })
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	entries := logs.FilterMessage("primary call failed, using fallback").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "translate", fields["stage"])
	assert.Contains(t, fields, "elapsed")
}
