package transcribe

import (
	"context"
	"fmt"
)

type outcome[T any] struct {
	value T
	err   error
}

// await runs fn on its own goroutine and waits for its single result. The engine cannot be
// interrupted, so fn gets a context that is never cancelled; when ctx ends first the result
// is abandoned and ctx.Err() returned.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	done := make(chan outcome[T], 1)
	engineCtx := context.WithoutCancel(ctx)
	go func() {
		var result outcome[T]
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("engine panicked: %v", r)
			}
			done <- result
		}()
		result.value, result.err = fn(engineCtx)
	}()

	select {
	case result := <-done:
		return result.value, result.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
