package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryStopsWhenCallbackReturnsFalse(t *testing.T) {
	var calls atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func(context.Context) bool {
		return calls.Add(1) < 3
	})

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestEveryCancel(t *testing.T) {
	var calls atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func(context.Context) bool {
		calls.Add(1)
		return true
	})
	time.Sleep(20 * time.Millisecond)
	task.Cancel()
	task.Wait()

	seen := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, seen, calls.Load(), "no calls after cancel")
	task.Cancel()
}

func TestEveryCallsNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	var calls atomic.Int32
	task := Every(context.Background(), time.Millisecond, func(context.Context) bool {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return calls.Add(1) < 5
	})
	task.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestAfterCancelledBeforeFiring(t *testing.T) {
	fired := make(chan struct{}, 1)
	task := After(context.Background(), 50*time.Millisecond, func(context.Context) {
		fired <- struct{}{}
	})
	task.Cancel()
	task.Wait()

	select {
	case <-fired:
		t.Fatal("callback ran after cancel")
	default:
	}
}

func TestAfterFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	task := After(context.Background(), time.Millisecond, func(context.Context) {
		fired <- struct{}{}
	})
	task.Wait()
	require.Len(t, fired, 1)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
