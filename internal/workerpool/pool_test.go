package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CorrectsNonPositiveSize(t *testing.T) {
	p := New(0, nil)
	assert.Equal(t, 1, p.MaxWorkers())

	p = New(-3, nil)
	assert.Equal(t, 1, p.Metrics().MaxWorkers)
}

func TestAcquireRelease_Metrics(t *testing.T) {
	p := New(2, nil)
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))

	m := p.Metrics()
	assert.Equal(t, 2, m.Busy)
	assert.Equal(t, 0, m.Available)
	assert.False(t, p.TryAcquire())

	p.Release()
	m = p.Metrics()
	assert.Equal(t, 1, m.Busy)
	assert.Equal(t, 1, m.Available)
	assert.Equal(t, int64(2), m.TotalAcquired)
	assert.Equal(t, int64(1), m.TotalReleased)

	p.Release()
}

func TestAcquire_RespectsContext(t *testing.T) {
	p := New(1, nil)
	require.NoError(t, p.Acquire(context.Background()))
	defer p.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Metrics().TotalAcquired)
}

func TestClose_WakesWaiters(t *testing.T) {
	p := New(1, nil)
	require.NoError(t, p.Acquire(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- p.Acquire(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Close")
	}

	assert.ErrorIs(t, p.Acquire(context.Background()), ErrPoolClosed)
	p.Release()
}

func TestPool_NeverExceedsBound(t *testing.T) {
	const maxWorkers, tasks = 3, 20
	p := New(maxWorkers, nil)

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, p.Acquire(context.Background())) {
				return
			}
			defer p.Release()

			n := running.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			assert.LessOrEqual(t, p.Metrics().Busy, maxWorkers)
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(maxWorkers))
	m := p.Metrics()
	assert.Equal(t, 0, m.Busy)
	assert.Equal(t, int64(tasks), m.TotalAcquired)
	assert.Equal(t, int64(tasks), m.TotalReleased)
}
