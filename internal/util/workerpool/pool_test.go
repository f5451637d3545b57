package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutesTasks(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 2, QueueSize: 16})
	defer pool.Stop(time.Second)

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := pool.TrySubmit(Task{
			ID: "task",
			Fn: func(context.Context) error {
				atomic.AddInt64(&count, 1)
				wg.Done()
				return nil
			},
		})
		require.True(t, ok)
	}
	wg.Wait()

	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
}

func TestTrySubmitFullQueue(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	defer pool.Stop(time.Second)

	block := make(chan struct{})
	defer close(block)

	// Occupy the worker, then fill the queue
	require.True(t, pool.TrySubmit(Task{ID: "blocker", Fn: func(context.Context) error {
		<-block
		return nil
	}}))

	submitted := 0
	for i := 0; i < 5; i++ {
		if pool.TrySubmit(Task{ID: "fill", Fn: func(context.Context) error { return nil }}) {
			submitted++
		}
	}

	assert.LessOrEqual(t, submitted, 2)
	assert.Greater(t, pool.Stats().RejectedTasks, uint64(0))
}

func TestPanicRecovery(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer pool.Stop(time.Second)

	done := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "panics", Fn: func(context.Context) error {
		defer close(done)
		panic("boom")
	}}))
	<-done

	// The worker survives and runs the next task
	next := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "after", Fn: func(context.Context) error {
		close(next)
		return nil
	}}))

	select {
	case <-next:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}

	require.Eventually(t, func() bool {
		return pool.Stats().FailedTasks == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFailedTaskCounted(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer pool.Stop(time.Second)

	require.True(t, pool.TrySubmit(Task{ID: "fails", Fn: func(context.Context) error {
		return errors.New("nope")
	}}))

	require.Eventually(t, func() bool {
		return pool.Stats().FailedTasks == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSubmitAfterStop(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	require.NoError(t, pool.Stop(time.Second))

	assert.False(t, pool.TrySubmit(Task{ID: "late", Fn: func(context.Context) error { return nil }}))
}

func TestStopIsIdempotent(t *testing.T) {
	pool := New(&Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	require.NoError(t, pool.Stop(time.Second))
	require.NoError(t, pool.Stop(time.Second))
}
