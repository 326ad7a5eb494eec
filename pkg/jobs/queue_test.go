package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var processed int64
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt64(&processed, 1)
		return nil
	}, QueueConfig{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Enqueue(Job{ID: "job", Type: "noop"}))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&processed) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	queue := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, queue.Enqueue(Job{ID: "early"}))
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int64
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 5, RetryDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "flaky", Type: "noop"}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&attempts) >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestQueueDropsJobAfterMaxRetries(t *testing.T) {
	var attempts int64
	queue := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("permanent")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	require.NoError(t, queue.Enqueue(Job{ID: "doomed", Type: "noop"}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&attempts) == 3
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}
