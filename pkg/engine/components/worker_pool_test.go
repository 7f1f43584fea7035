package components

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Stop()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(context.Background(), func() {
			defer wg.Done()
			count.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
	assert.Equal(t, 4, pool.Size())
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(context.Background(), func() {
			started <- struct{}{}
			<-release
		}))
	}
	<-started
	<-started
	assert.Equal(t, 2, pool.Busy())

	// no worker is free, so the submit gives up when its context does
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestWorkerPoolStop(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Stop()
	pool.Stop()

	err := pool.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolStopped)
}
