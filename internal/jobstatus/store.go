// Package jobstatus tracks the lifecycle of conversion jobs in memory with a
// per-job JSON snapshot on disk used as a fallback after restarts.
package jobstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// Record is what gets persisted per job. The source path and options are kept
// next to the status so a failed job can be retried after a restart.
type Record struct {
	Status     domain.JobStatus  `json:"status"`
	SourcePath string            `json:"source_path,omitempty"`
	Options    domain.JobOptions `json:"options"`
}

// Job rebuilds the immutable job this record was created from.
func (r Record) Job() domain.Job {
	return domain.Job{
		ID:         r.Status.JobID,
		SessionID:  r.Status.SessionID,
		SourcePath: r.SourcePath,
		Options:    r.Options,
		CreatedAt:  r.Status.CreatedAt,
	}
}

type entry struct {
	record   Record
	observed bool
}

// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	// persistMu is taken before mu is released so snapshots hit the disk in
	// the same order the in-memory updates happened.
	persistMu sync.Mutex

	entries  map[string]*entry
	dir      string
	logger   *observability.Logger
	notifier Notifier
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier registers notifiers that receive every status change.
func WithNotifier(n ...Notifier) Option {
	return func(s *Store) {
		s.notifier = append(multiNotifier{s.notifier}, n...)
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store persisting snapshots under dir. An empty dir
// disables persistence.
func NewStore(dir string, logger *observability.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create status dir: %w", err)
		}
	}

	s := &Store{
		entries: make(map[string]*entry),
		dir:     dir,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create registers a job as Queued. An existing record for the same id is replaced.
func (s *Store) Create(ctx context.Context, job domain.Job) domain.JobStatus {
	now := s.now().UTC()
	rec := Record{
		Status: domain.JobStatus{
			JobID:        job.ID,
			SessionID:    job.SessionID,
			State:        domain.JobStateQueued,
			Progress:     0,
			CurrentStage: "Queued",
			Message:      "Job queued for processing",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		SourcePath: job.SourcePath,
		Options:    job.Options,
	}

	s.mu.Lock()
	s.entries[job.ID] = &entry{record: rec}
	s.persistMu.Lock()
	s.mu.Unlock()
	s.persist(rec)
	s.persistMu.Unlock()

	s.notify(ctx, rec.Status)
	return rec.Status
}

// Get returns the current status, falling back to the on-disk snapshot.
// Reading a terminal status marks it observed so Prune can release it.
func (s *Store) Get(ctx context.Context, jobID string) (domain.JobStatus, error) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	if ok {
		if e.record.Status.State.IsTerminal() {
			e.observed = true
		}
		st := e.record.Status
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	rec, err := s.load(jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	return rec.Status, nil
}

// Record returns the full record including the source path.
func (s *Store) Record(ctx context.Context, jobID string) (Record, error) {
	s.mu.RLock()
	e, ok := s.entries[jobID]
	var rec Record
	if ok {
		rec = e.record
	}
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}
	return s.load(jobID)
}

// Update applies a partial change. Illegal state transitions are rejected
// with domain.ErrInvalidTransition; progress never goes backwards while a job
// is processing.
func (s *Store) Update(ctx context.Context, jobID string, u domain.StatusUpdate) (domain.JobStatus, error) {
	s.mu.Lock()
	e, err := s.entryLocked(jobID)
	if err != nil {
		s.mu.Unlock()
		return domain.JobStatus{}, err
	}

	st := e.record.Status
	next := st.State
	if u.State != nil {
		next = *u.State
	}
	if !domain.CanTransition(st.State, next) {
		s.mu.Unlock()
		return st, fmt.Errorf("%w: %s -> %s for job %s", domain.ErrInvalidTransition, st.State, next, jobID)
	}

	st.State = next
	if u.Progress != nil {
		p := clamp(*u.Progress)
		if st.State == domain.JobStateProcessing && p < st.Progress {
			s.logger.Debug().
				Str("job_id", jobID).
				Int("current", st.Progress).
				Int("requested", p).
				Msg("Ignoring progress regression")
		} else {
			st.Progress = p
		}
	}
	if u.CurrentStage != nil {
		st.CurrentStage = *u.CurrentStage
	}
	if u.Message != nil {
		st.Message = *u.Message
	}
	if u.Error != nil {
		st.Error = *u.Error
	}
	if u.ResultLocation != nil {
		st.ResultLocation = *u.ResultLocation
	}
	if u.SlideCount != nil {
		st.SlideCount = *u.SlideCount
	}

	now := s.now().UTC()
	st.UpdatedAt = now
	if st.State.IsTerminal() {
		st.CompletedAt = &now
		if st.State == domain.JobStateCompleted {
			st.Progress = 100
		}
	}

	e.record.Status = st
	rec := e.record
	s.persistMu.Lock()
	s.mu.Unlock()
	s.persist(rec)
	s.persistMu.Unlock()

	s.notify(ctx, st)
	return st, nil
}

// Reset moves a Failed job back to Queued for a retry.
func (s *Store) Reset(ctx context.Context, jobID string) (domain.JobStatus, error) {
	s.mu.Lock()
	e, err := s.entryLocked(jobID)
	if err != nil {
		s.mu.Unlock()
		return domain.JobStatus{}, err
	}
	if e.record.Status.State != domain.JobStateFailed {
		st := e.record.Status
		s.mu.Unlock()
		return st, fmt.Errorf("%w: only failed jobs can be retried, job %s is %s",
			domain.ErrInvalidState, jobID, st.State)
	}

	now := s.now().UTC()
	st := e.record.Status
	st.State = domain.JobStateQueued
	st.Progress = 0
	st.CurrentStage = "Queued"
	st.Message = "Job queued for retry"
	st.Error = ""
	st.ResultLocation = ""
	st.CompletedAt = nil
	st.UpdatedAt = now

	e.record.Status = st
	e.observed = false
	rec := e.record
	s.persistMu.Lock()
	s.mu.Unlock()
	s.persist(rec)
	s.persistMu.Unlock()

	s.notify(ctx, st)
	return st, nil
}

// Prune releases in-memory entries that are terminal, have been observed and
// finished more than retention ago. Snapshots on disk are kept.
func (s *Store) Prune(retention time.Duration) int {
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, e := range s.entries {
		st := e.record.Status
		if !e.observed || !st.State.IsTerminal() || st.CompletedAt == nil {
			continue
		}
		if st.CompletedAt.Before(cutoff) {
			delete(s.entries, id)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of in-memory entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Pending returns the snapshots on disk whose job never reached a terminal
// state, oldest first. They are loaded into memory so later updates apply to
// them. Used at startup to recover work interrupted by a restart.
func (s *Store) Pending(ctx context.Context) ([]Record, error) {
	if s.dir == "" {
		return nil, nil
	}
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list status dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		jobID := strings.TrimSuffix(name, ".json")
		if _, ok := s.entries[jobID]; ok {
			continue
		}
		rec, err := s.load(jobID)
		if err != nil || rec.Status.State.IsTerminal() {
			continue
		}
		s.entries[jobID] = &entry{record: rec}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Status.CreatedAt.Before(out[j].Status.CreatedAt)
	})
	return out, nil
}

// entryLocked returns the in-memory entry, loading it from disk if needed.
// The caller must hold s.mu.
func (s *Store) entryLocked(jobID string) (*entry, error) {
	if e, ok := s.entries[jobID]; ok {
		return e, nil
	}
	rec, err := s.load(jobID)
	if err != nil {
		return nil, err
	}
	e := &entry{record: rec}
	s.entries[jobID] = e
	return e, nil
}

func (s *Store) snapshotPath(jobID string) (string, bool) {
	if s.dir == "" || jobID == "" || strings.ContainsAny(jobID, `/\`) || strings.HasPrefix(jobID, ".") {
		return "", false
	}
	return filepath.Join(s.dir, jobID+".json"), true
}

func (s *Store) load(jobID string) (Record, error) {
	path, ok := s.snapshotPath(jobID)
	if !ok {
		return Record{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to read status snapshot")
		return Record{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Status.JobID == "" {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Corrupt status snapshot")
		return Record{}, fmt.Errorf("job %s: %w", jobID, domain.ErrNotFound)
	}
	return rec, nil
}

// persist writes the snapshot. Failures are logged, never returned. The
// caller must hold s.persistMu.
func (s *Store) persist(rec Record) {
	path, ok := s.snapshotPath(rec.Status.JobID)
	if !ok {
		return
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", rec.Status.JobID).Msg("Failed to encode status snapshot")
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn().Err(err).Str("job_id", rec.Status.JobID).Msg("Failed to write status snapshot")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		s.logger.Warn().Err(err).Str("job_id", rec.Status.JobID).Msg("Failed to write status snapshot")
	}
}

func (s *Store) notify(ctx context.Context, st domain.JobStatus) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, st)
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
