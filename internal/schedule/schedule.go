// Package schedule runs delayed and repeating work on a goroutine that the
// caller can cancel. Every task releases its timer when it stops, so a torn
// down owner never leaks a ticker.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Task is a handle to scheduled work.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newTask(ctx context.Context) (*Task, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Task{cancel: cancel, done: make(chan struct{})}, ctx
}

// Cancel stops the task. It is safe to call more than once and from the
// task's own callback.
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}

// Done is closed once the task goroutine has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task goroutine has returned.
func (t *Task) Wait() {
	<-t.done
}

// Every calls fn once per interval until fn returns false, the task is
// cancelled, or ctx is done. The first call happens one interval after
// Every returns. Calls never overlap: the next tick is not consumed until fn
// has returned.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context) bool) *Task {
	task, ctx := newTask(ctx)
	go func() {
		defer close(task.done)
		defer task.Cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !fn(ctx) {
					return
				}
			}
		}
	}()
	return task
}

// After calls fn once after d unless the task is cancelled first.
func After(ctx context.Context, d time.Duration, fn func(ctx context.Context)) *Task {
	task, ctx := newTask(ctx)
	go func() {
		defer close(task.done)
		defer task.Cancel()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			fn(ctx)
		}
	}()
	return task
}

// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter
// case.
func Sleep(ctx context.Context, d time.Duration) error {
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
