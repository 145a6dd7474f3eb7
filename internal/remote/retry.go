package remote

import (
	"context"
	"net/http"
	"time"
)

// statusClass はHTTPステータスコードに基づく応答の分類。
type statusClass int

const (
	// statusOK は成功（2xx）。
	statusOK statusClass = iota
	// statusFinal は再試行しても結果が変わらないステータス（4xx）。
	statusFinal
	// statusRetry は再試行が必要なステータス（429/5xx）。
	statusRetry
)

const (
	// maxLoadAttempts は読み込みの最大試行回数。
	maxLoadAttempts = 3
	// initialRetryDelay は指数バックオフの初回遅延。
	initialRetryDelay = 250 * time.Millisecond
	// maxRetryDelay は指数バックオフの最大遅延。
	maxRetryDelay = 2 * time.Second
)

// classifyStatus はHTTPステータスコードを分類する。
func classifyStatus(statusCode int) statusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return statusOK
	case statusCode == http.StatusTooManyRequests:
		return statusRetry
	case statusCode >= 500:
		return statusRetry
	default:
		return statusFinal
	}
}

// retryDelay は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回はbase、2倍ずつ増加し、maxRetryDelayを上限とする。
func retryDelay(base time.Duration, failures int) time.Duration {
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// sleep はdだけ待機する。ctxがキャンセルされた場合はctx.Err()を返す。
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
