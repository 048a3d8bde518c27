package utils

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// RunWithTimeout は指定されたタイムアウト時間内でfnを実行します
// タイムアウトを超えた場合はコンテキストをキャンセルし、context.DeadlineExceededを包んだエラーを返します
// fn内のpanicはエラーとして返します
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errChan <- fmt.Errorf("panic recovered: %v\nStack trace:\n%s", rec, debug.Stack())
			}
		}()
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("reconcile timed out after %v: %w", timeout, ctx.Err())
	}
}
