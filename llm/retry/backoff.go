package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy 定义集中式重试策略。
// 第 k 次尝试（k≥2）之前的延迟为 BackoffBase·BackoffMultiplier^(k-2)，不超过 MaxDelay。
type Policy struct {
	MaxAttempts       int           // 总尝试次数（含首次），至少为 1
	BackoffBase       time.Duration // 第二次尝试前的延迟
	BackoffMultiplier float64       // 指数退避倍增因子
	MaxDelay          time.Duration // 单次延迟上限，0 表示不限制
	Jitter            bool          // 是否添加 ±25% 随机抖动
}

// DefaultPolicy 返回 Backend Invoker 的默认策略：3 次尝试，2s 起步，倍增。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// Normalize 修正非法字段并返回副本。
func (p Policy) Normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BackoffBase < 0 {
		p.BackoffBase = 0
	}
	if p.BackoffMultiplier < 1.0 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

// Delay 返回第 attempt 次尝试之前的等待时长（attempt 从 1 开始，首次为 0）。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BackoffBase <= 0 {
		return 0
	}
	delay := float64(p.BackoffBase) * math.Pow(p.BackoffMultiplier, float64(attempt-2))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// SleepFunc 是可注入的休眠函数，ctx 取消时必须提前返回 ctx.Err()。
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext 是默认的 SleepFunc，基于 time.Timer。
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExhaustedError 表示所有尝试均失败。
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("重试 %d 次后仍失败: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retryer 重试器接口
type Retryer interface {
	// Do 执行 fn，失败时按策略重试。attempt 从 1 开始。
	Do(ctx context.Context, fn func(attempt int) error) error
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy Policy
	sleep  SleepFunc
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器。sleep 为 nil 时使用 SleepContext。
func NewBackoffRetryer(policy Policy, sleep SleepFunc, logger *zap.Logger) Retryer {
	if sleep == nil {
		sleep = SleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{
		policy: policy.Normalize(),
		sleep:  sleep,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.Delay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("重试被取消: %w", err)
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !retryable(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return &ExhaustedError{Attempts: r.policy.MaxAttempts, Err: lastErr}
}

// retryable 除 ctx 取消与超时外的错误都重试
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
