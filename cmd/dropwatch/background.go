package main

import (
	"context"

	"go.uber.org/zap"
)

type runner interface {
	Run(ctx context.Context) error
}

// runInBackground starts r on its own goroutine. The returned stop cancels r
// and blocks until its Run has returned.
func runInBackground(ctx context.Context, r runner, log *zap.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.Run(ctx); err != nil {
			log.Error("background service stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
