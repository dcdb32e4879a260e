package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		BackoffFactor:   2.0,
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"超时", errors.New("i/o timeout"), true},
		{"限流", errors.New("429 Too Many Requests"), true},
		{"包装的连接错误", fmt.Errorf("getAllNames: %w", errors.New("connection reset by peer")), true},
		{"合约回滚", errors.New("execution reverted"), false},
		{"用户拒绝", errors.New("user rejected"), false},
		{"显式不可重试", NewRetryableError(errors.New("timeout"), false), false},
		{"包装的显式可重试", fmt.Errorf("x: %w", NewRetryableError(errors.New("odd"), true)), true},
		{"上下文取消", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestExecute_RetriesTransientErrors(t *testing.T) {
	retrier := NewRetrier(fastConfig(3), logrus.New())

	calls := 0
	err := retrier.Execute(context.Background(), "read", func() error {
		calls++
		if calls < 3 {
			return errors.New("service unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecute_StopsOnPermanentError(t *testing.T) {
	retrier := NewRetrier(fastConfig(5), logrus.New())
	permanent := errors.New("execution reverted")

	calls := 0
	err := retrier.Execute(context.Background(), "read", func() error {
		calls++
		return permanent
	})
	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestExecute_GivesUp(t *testing.T) {
	retrier := NewRetrier(fastConfig(2), logrus.New())
	transient := errors.New("timeout")

	calls := 0
	err := retrier.Execute(context.Background(), "read", func() error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 2, calls)
}

func TestExecute_ContextCancelled(t *testing.T) {
	retrier := NewRetrier(fastConfig(3), logrus.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retrier.Execute(ctx, "read", func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo(t *testing.T) {
	retrier := NewRetrier(fastConfig(3), logrus.New())

	calls := 0
	names, err := Do(context.Background(), retrier, "getAllNames", func() ([]string, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return []string{"abc"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, names)
}

func TestNewRetrier_Defaults(t *testing.T) {
	assert.Equal(t, DefaultRetryConfig, NewRetrier(nil, logrus.New()).GetConfig())
	assert.Equal(t, 1, NewRetrier(&RetryConfig{}, logrus.New()).GetConfig().MaxAttempts)
}

func TestCalculateDelay_Capped(t *testing.T) {
	retrier := NewRetrier(&RetryConfig{
		MaxAttempts:     10,
		InitialInterval: time.Second,
		MaxInterval:     3 * time.Second,
		BackoffFactor:   2.0,
	}, logrus.New())

	assert.Equal(t, time.Second, retrier.calculateDelay(1))
	assert.Equal(t, 2*time.Second, retrier.calculateDelay(2))
	assert.Equal(t, 3*time.Second, retrier.calculateDelay(5))
}
