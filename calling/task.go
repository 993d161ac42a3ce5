/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"time"
)

// ErrTaskTimeout is returned when an async task did not finish in time
var ErrTaskTimeout = errors.New("task timed out")

type taskResult[T any] struct {
	value T
	err   error
}

// RunTask runs fn on its own goroutine and waits for its single result.
// A zero timeout waits for ctx only. On timeout fn's context is canceled
// and ErrTaskTimeout is returned; a late result is dropped.
func RunTask[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan taskResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- taskResult[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTaskTimeout
		}
		return zero, ctx.Err()
	}
}
