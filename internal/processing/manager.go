// Package processing dispatches submitted jobs onto the worker pool.
package processing

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/workerpool"
)

// ErrDrainTimeout is returned by Stop when in-flight jobs did not finish in time.
var ErrDrainTimeout = errors.New("drain timeout exceeded")

// unwindTimeout bounds how long Stop waits for cancelled jobs to return.
const unwindTimeout = 10 * time.Second

// ProcessFunc runs one job. It owns recording the job's terminal status.
type ProcessFunc func(ctx context.Context, job domain.Job) error

// State of the manager.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

// Config controls dispatch timing.
type Config struct {
	// PollInterval is how long a dequeue waits before re-checking for a stop.
	PollInterval time.Duration
	// DrainTimeout bounds a graceful stop.
	DrainTimeout time.Duration
}

// Metrics is a snapshot of manager counters.
type Metrics struct {
	JobsSubmitted int64              `json:"jobs_submitted"`
	JobsSucceeded int64              `json:"jobs_succeeded"`
	JobsFailed    int64              `json:"jobs_failed"`
	QueueSize     int                `json:"queue_size"`
	InFlight      int                `json:"in_flight"`
	IsRunning     bool               `json:"is_running"`
	State         State              `json:"state"`
	WorkerPool    workerpool.Metrics `json:"worker_pool"`
}

// Manager pairs queued jobs with worker pool slots.
type Manager struct {
	queue   *Queue[domain.Job]
	pool    *workerpool.Pool
	process ProcessFunc
	cfg     Config
	logger  *observability.Logger

	mu         sync.Mutex
	state      State
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	jobsCtx    context.Context
	jobsCancel context.CancelFunc
	inflight   map[string]context.CancelFunc
	wg         sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewManager creates a stopped manager.
func NewManager(pool *workerpool.Pool, process ProcessFunc, cfg Config, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 60 * time.Second
	}
	return &Manager{
		queue:    NewQueue[domain.Job](),
		pool:     pool,
		process:  process,
		cfg:      cfg,
		logger:   logger.WithOperation("processing_manager"),
		state:    StateStopped,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Start launches the dispatch loop. Calling it while running is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStopped {
		m.logger.Warn().Str("state", string(m.state)).Msg("Processing manager already started")
		return
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	m.jobsCtx, m.jobsCancel = context.WithCancel(context.Background())
	m.loopCancel = loopCancel
	m.loopDone = make(chan struct{})
	m.state = StateRunning

	go m.dispatch(loopCtx, m.loopDone)

	m.logger.Info().
		Int("max_workers", m.pool.MaxWorkers()).
		Int("queued", m.queue.Len()).
		Msg("Processing manager started")
}

// Submit enqueues a job and returns immediately.
func (m *Manager) Submit(job domain.Job) {
	m.queue.Push(job)
	m.submitted.Add(1)
	m.logger.Debug().
		Str("job_id", job.ID).
		Int("queue_size", m.queue.Len()).
		Msg("Job submitted")
}

// Stop halts dispatching. With graceful set it waits up to the drain timeout
// for in-flight jobs before cancelling them; otherwise they are cancelled at
// once. Jobs still queued stay queued for the next Start.
func (m *Manager) Stop(graceful bool) error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDraining
	loopCancel, loopDone := m.loopCancel, m.loopDone
	jobsCancel := m.jobsCancel
	m.mu.Unlock()

	m.logger.Info().Bool("graceful", graceful).Int("in_flight", m.InFlight()).Msg("Stopping processing manager")

	loopCancel()
	<-loopDone

	var err error
	if graceful {
		if !m.waitInFlight(m.cfg.DrainTimeout) {
			err = ErrDrainTimeout
			m.logger.Warn().
				Dur("drain_timeout", m.cfg.DrainTimeout).
				Int("in_flight", m.InFlight()).
				Msg("Drain timeout exceeded, cancelling in-flight jobs")
		}
	}

	jobsCancel()
	if !m.waitInFlight(unwindTimeout) {
		m.logger.Error().Int("in_flight", m.InFlight()).Msg("In-flight jobs did not unwind after cancellation")
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	m.logger.Info().Int("queued", m.queue.Len()).Msg("Processing manager stopped")
	return err
}

// Cancel cancels a single in-flight job. It reports whether the job was running.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	cancel, ok := m.inflight[jobID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InFlight returns the number of executing jobs.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Metrics returns the current counters.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	state := m.state
	inflight := len(m.inflight)
	m.mu.Unlock()

	return Metrics{
		JobsSubmitted: m.submitted.Load(),
		JobsSucceeded: m.succeeded.Load(),
		JobsFailed:    m.failed.Load(),
		QueueSize:     m.queue.Len(),
		InFlight:      inflight,
		IsRunning:     state == StateRunning,
		State:         state,
		WorkerPool:    m.pool.Metrics(),
	}
}

func (m *Manager) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		job, ok := m.queue.Pop(ctx, m.cfg.PollInterval)
		if !ok {
			continue
		}

		if err := m.pool.Acquire(ctx); err != nil {
			m.queue.PushFront(job)
			if !errors.Is(err, context.Canceled) {
				m.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to acquire worker slot")
			}
			return
		}
		if ctx.Err() != nil {
			m.pool.Release()
			m.queue.PushFront(job)
			return
		}

		m.launch(job)
	}
}

func (m *Manager) launch(job domain.Job) {
	m.mu.Lock()
	jobCtx, cancel := context.WithCancel(m.jobsCtx)
	m.inflight[job.ID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.pool.Release()
		defer func() {
			m.mu.Lock()
			delete(m.inflight, job.ID)
			m.mu.Unlock()
			cancel()
		}()

		m.execute(jobCtx, job)
	}()
}

func (m *Manager) execute(ctx context.Context, job domain.Job) {
	logger := m.logger.WithJob(job.ID, job.SessionID)
	start := time.Now()
	logger.Info().Msg("Job started")

	if err := m.run(ctx, job); err != nil {
		m.failed.Add(1)
		logger.Error().Err(err).Elapsed(start).Msg("Job failed")
		return
	}

	m.succeeded.Add(1)
	logger.Info().Elapsed(start).Msg("Job finished")
}

func (m *Manager) run(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("job_id", job.ID).
				Str("stack", string(debug.Stack())).
				Msg("Job panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.process(ctx, job)
}

func (m *Manager) waitInFlight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
