package database

import (
	"context"
	"time"
)

const (
	// retryBaseDelay はリトライの初回待機時間。
	retryBaseDelay = 50 * time.Millisecond
	// retryMaxDelay はリトライ待機時間の上限。
	retryMaxDelay = 1 * time.Second
)

// CalculateBackoff は試行回数に基づいて指数バックオフ遅延を計算する。
// 初回50ms、2倍ずつ増加、最大1秒。
func CalculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// Retry はfnを最大attempts回まで実行する。
// 冪等な読み取りにのみ使用すること。コンテキストがキャンセルされた時点で打ち切る。
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || i == attempts-1 {
			break
		}

		timer := time.NewTimer(CalculateBackoff(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Do はRetryの戻り値付き版。
func Do[T any](ctx context.Context, attempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, attempts, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
