package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil }, Options{})
	err := q.Enqueue(Job{Type: "noop"})
	assert.Error(t, err)
}

func TestQueueDeliversJobs(t *testing.T) {
	var handled int64
	q := NewQueue("test", func(_ context.Context, job Job) error {
		atomic.AddInt64(&handled, 1)
		return nil
	}, Options{Workers: 2})

	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "noop"}))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&handled) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int64
	q := NewQueue("test", func(_ context.Context, job Job) error {
		if atomic.AddInt64(&attempts, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, Options{RetryDelay: 5 * time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "flaky"}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&attempts) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
