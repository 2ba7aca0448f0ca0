// Package workerpool bounds how many documents are converted at once.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// ErrPoolClosed is returned by Acquire once the pool has been closed.
var ErrPoolClosed = errors.New("worker pool closed")

// Metrics is a point-in-time view of the pool.
type Metrics struct {
	MaxWorkers    int   `json:"max_workers"`
	Busy          int   `json:"busy"`
	Available     int   `json:"available"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
}

// Pool is a fixed-capacity counting semaphore.
type Pool struct {
	max  int
	sem  *semaphore.Weighted
	busy atomic.Int64

	acquired atomic.Int64
	released atomic.Int64

	closeCtx  context.Context
	closeFn   context.CancelFunc
	closeOnce sync.Once

	logger *observability.Logger
}

// New creates a pool with maxWorkers slots. Values below 1 are corrected to 1.
func New(maxWorkers int, logger *observability.Logger) *Pool {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if maxWorkers < 1 {
		logger.Warn().
			Int("configured", maxWorkers).
			Msg("max_workers must be at least 1, using 1")
		maxWorkers = 1
	}

	closeCtx, closeFn := context.WithCancel(context.Background())
	logger.Info().Int("max_workers", maxWorkers).Msg("Worker pool initialized")

	return &Pool{
		max:      maxWorkers,
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
		closeCtx: closeCtx,
		closeFn:  closeFn,
		logger:   logger,
	}
}

// Acquire blocks until a slot is free, ctx is done, or the pool is closed.
// On a nil return the caller owns exactly one slot and must Release it.
func (p *Pool) Acquire(ctx context.Context) error {
	if p.closeCtx.Err() != nil {
		return ErrPoolClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		if p.closeCtx.Err() != nil {
			return ErrPoolClosed
		}
		return err
	}

	p.busy.Add(1)
	p.acquired.Add(1)
	return nil
}

// TryAcquire takes a slot only if one is free right now.
func (p *Pool) TryAcquire() bool {
	if p.closeCtx.Err() != nil || !p.sem.TryAcquire(1) {
		return false
	}
	p.busy.Add(1)
	p.acquired.Add(1)
	return true
}

// Release returns one slot to the pool.
func (p *Pool) Release() {
	p.busy.Add(-1)
	p.released.Add(1)
	p.sem.Release(1)
}

// Close wakes every pending Acquire with ErrPoolClosed. Slots already held
// stay valid and must still be released.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closeFn()
		p.logger.Info().Msg("Worker pool closed")
	})
}

// MaxWorkers returns the pool capacity.
func (p *Pool) MaxWorkers() int {
	return p.max
}

// Metrics returns the current counters without blocking.
func (p *Pool) Metrics() Metrics {
	busy := int(p.busy.Load())
	return Metrics{
		MaxWorkers:    p.max,
		Busy:          busy,
		Available:     p.max - busy,
		TotalAcquired: p.acquired.Load(),
		TotalReleased: p.released.Load(),
	}
}
