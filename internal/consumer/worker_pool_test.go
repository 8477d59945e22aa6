package consumer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ExecutesSubmittedJobs(t *testing.T) {
	pool := NewWorkerPool(4, 16)

	var executed int64
	for i := 0; i < 20; i++ {
		ok := pool.Submit(func() {
			atomic.AddInt64(&executed, 1)
		})
		require.True(t, ok)
	}

	drained := pool.Shutdown(2 * time.Second)
	assert.True(t, drained)
	assert.Equal(t, int64(20), atomic.LoadInt64(&executed))
}

func TestWorkerPool_RejectsAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Shutdown(time.Second)

	ok := pool.Submit(func() {})
	assert.False(t, ok)
}

func TestWorkerPool_ShutdownGraceExpires(t *testing.T) {
	pool := NewWorkerPool(1, 1)

	blocker := make(chan struct{})
	require.True(t, pool.Submit(func() { <-blocker }))

	drained := pool.Shutdown(50 * time.Millisecond)
	assert.False(t, drained)

	close(blocker)
}

func TestWorkerPool_ShutdownIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(2, 4)

	assert.True(t, pool.Shutdown(time.Second))
	assert.True(t, pool.Shutdown(time.Second))
}
