package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/artifacts"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/cache"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/jobstatus"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/processing"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/render"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/slides"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/workerpool"
)

// SupportedExtension is the only accepted source format.
const SupportedExtension = ".pptx"

// SubmitRequest asks for one document to be converted. Empty ids are generated.
type SubmitRequest struct {
	JobID              string
	SessionID          string
	SourcePath         string
	SourceLanguage     string
	TargetLanguage     string
	GenerateThumbnails bool
}

// Metrics is the service level metrics snapshot.
type Metrics struct {
	ProcessingManager processing.Metrics `json:"processing_manager"`
	WorkerPool        workerpool.Metrics `json:"worker_pool"`
	UptimeSeconds     float64            `json:"uptime_seconds"`
	Version           string             `json:"version"`
}

// Deps are the collaborators a Service is assembled from. Cache and Results
// are optional.
type Deps struct {
	Statuses  *jobstatus.Store
	Cache     *cache.ResultStore
	Renderer  render.Renderer
	Artifacts artifacts.Store
	Results   ResultRepository
}

// Service is the entry point for submitting and inspecting conversions.
type Service struct {
	cfg       *config.Config
	statuses  *jobstatus.Store
	cache     *cache.ResultStore
	renderer  render.Renderer
	artifacts artifacts.Store
	results   ResultRepository
	pool      *workerpool.Pool
	manager   *processing.Manager
	processor *Processor
	logger    *observability.Logger
	started   time.Time

	janitorMu   sync.Mutex
	janitorStop context.CancelFunc
	janitorDone chan struct{}
	recovered   bool
}

// NewService wires the processor, worker pool and processing manager.
func NewService(cfg *config.Config, deps Deps, logger *observability.Logger) (*Service, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if deps.Statuses == nil || deps.Renderer == nil || deps.Artifacts == nil {
		return nil, errors.New("processor: status store, renderer and artifact store are required")
	}
	for _, dir := range []string{cfg.Processing.UploadDir, cfg.Processing.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to create %s", dir), err)
		}
	}

	pipeline := slides.NewPipeline(deps.Artifacts, slides.Config{
		SlidesBucket:        cfg.Artifacts.SlidesBucket,
		ThumbnailWidth:      cfg.Processing.ThumbnailWidth,
		SegmentMaxLength:    cfg.Processing.SegmentMaxLength,
		TitleMinHeightRatio: cfg.Processing.TitleMinHeightRatio,
		Match: slides.MatchConfig{
			SubstringThreshold: cfg.Validation.SubstringThreshold,
			JaccardThreshold:   cfg.Validation.JaccardThreshold,
			CharSetThreshold:   cfg.Validation.CharSetThreshold,
			CharSetMinLength:   cfg.Validation.CharSetMinLength,
		},
	}, logger)

	proc := NewProcessor(deps.Statuses, deps.Cache, deps.Renderer, pipeline, deps.Artifacts, deps.Results,
		ProcessorConfig{
			WorkDir:          cfg.Processing.WorkDir,
			ResultsBucket:    cfg.Artifacts.ResultsBucket,
			SlideConcurrency: cfg.Processing.SlideConcurrency,
		}, logger)

	pool := workerpool.New(cfg.Processing.MaxWorkers, logger)
	manager := processing.NewManager(pool, proc.Process, processing.Config{
		PollInterval: cfg.Processing.PollInterval,
		DrainTimeout: cfg.Processing.DrainTimeout,
	}, logger)

	return &Service{
		cfg:       cfg,
		statuses:  deps.Statuses,
		cache:     deps.Cache,
		renderer:  deps.Renderer,
		artifacts: deps.Artifacts,
		results:   deps.Results,
		pool:      pool,
		manager:   manager,
		processor: proc,
		logger:    logger.WithOperation("service"),
		started:   time.Now(),
	}, nil
}

// Start begins dispatching jobs and runs the janitor. With
// processing.recover_on_start, the first call also recovers jobs left
// unfinished by a previous process.
func (s *Service) Start() {
	s.manager.Start()

	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()
	if !s.recovered && s.cfg.Processing.RecoverOnStart {
		s.recovered = true
		s.recover(context.Background())
	}
	if s.janitorStop != nil || s.cfg.Status.JanitorInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.janitorStop = cancel
	s.janitorDone = make(chan struct{})
	go s.runJanitor(ctx, s.janitorDone)
}

// recover requeues jobs that were still Queued when the previous process
// exited. Jobs caught mid-processing are marked Failed so they can be retried.
func (s *Service) recover(ctx context.Context) {
	pending, err := s.statuses.Pending(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to scan status snapshots")
		return
	}

	requeued := 0
	for _, rec := range pending {
		if rec.Status.State == domain.JobStateQueued {
			s.manager.Submit(rec.Job())
			requeued++
			continue
		}
		if _, err := s.statuses.Update(ctx, rec.Status.JobID, domain.StatusUpdate{
			State:        domain.Ptr(domain.JobStateFailed),
			Error:        domain.Ptr(MsgInterrupted),
			Message:      domain.Ptr(MsgInterrupted),
			CurrentStage: domain.Ptr(StageFailed),
		}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", rec.Status.JobID).Msg("Failed to mark interrupted job")
		}
	}
	if len(pending) > 0 {
		s.logger.Info().
			Int("requeued", requeued).
			Int("interrupted", len(pending)-requeued).
			Msg("Recovered unfinished jobs")
	}
}

// Stop stops the janitor and the processing manager.
func (s *Service) Stop(graceful bool) error {
	s.janitorMu.Lock()
	if s.janitorStop != nil {
		s.janitorStop()
		<-s.janitorDone
		s.janitorStop = nil
	}
	s.janitorMu.Unlock()

	return s.manager.Stop(graceful)
}

// Close releases the worker pool. The service cannot be restarted afterwards.
func (s *Service) Close() {
	s.pool.Close()
}

// Submit validates the request, records the job as Queued and enqueues it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.JobStatus, error) {
	if req.SourcePath == "" {
		return domain.JobStatus{}, domain.ValidationError("source file is required", nil)
	}
	if !strings.EqualFold(filepath.Ext(req.SourcePath), SupportedExtension) {
		return domain.JobStatus{}, domain.ValidationError(
			fmt.Sprintf("unsupported file type %q, only %s is accepted", filepath.Ext(req.SourcePath), SupportedExtension), nil)
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return domain.JobStatus{}, domain.ValidationError("source file is not readable", err)
	}

	job := domain.Job{
		ID:         req.JobID,
		SessionID:  req.SessionID,
		SourcePath: req.SourcePath,
		Options: domain.JobOptions{
			SourceLanguage:     req.SourceLanguage,
			TargetLanguage:     req.TargetLanguage,
			GenerateThumbnails: req.GenerateThumbnails,
		},
		CreatedAt: time.Now().UTC(),
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SessionID == "" {
		job.SessionID = uuid.NewString()
	}

	st := s.statuses.Create(ctx, job)
	s.manager.Submit(job)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Str("file", filepath.Base(job.SourcePath)).
		Msg("Job submitted")
	return st, nil
}

// Status returns the job's status or domain.ErrNotFound.
func (s *Service) Status(ctx context.Context, jobID string) (domain.JobStatus, error) {
	return s.statuses.Get(ctx, jobID)
}

// Result finds a session's result in the cache, then the uploaded result
// document, then the database.
func (s *Service) Result(ctx context.Context, sessionID string) (*domain.ResultDocument, error) {
	if sessionID == "" {
		return nil, domain.ValidationError("session id is required", nil)
	}

	if s.cache != nil {
		if doc, _, ok := s.cache.Get(ctx, SessionCacheKey(sessionID)); ok {
			return doc, nil
		}
	}

	doc, err := s.downloadResult(ctx, sessionID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to fetch result document")
	}

	if s.results != nil {
		doc, err := s.results.LoadResult(ctx, sessionID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, domain.StorageError("failed to load result", err)
		}
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
}

func (s *Service) downloadResult(ctx context.Context, sessionID string) (*domain.ResultDocument, error) {
	dir, err := os.MkdirTemp(s.cfg.Processing.WorkDir, "result-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path, err := s.artifacts.Download(ctx, s.cfg.Artifacts.ResultsBucket, ResultKey(sessionID), filepath.Join(dir, "result.json"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc domain.ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &doc, nil
}

// Retry resubmits a Failed job under the same id.
func (s *Service) Retry(ctx context.Context, jobID string) (domain.JobStatus, error) {
	rec, err := s.statuses.Record(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	if rec.Status.State != domain.JobStateFailed {
		return rec.Status, fmt.Errorf("%w: only failed jobs can be retried, job %s is %s",
			domain.ErrInvalidState, jobID, rec.Status.State)
	}
	if _, err := os.Stat(rec.SourcePath); err != nil {
		return rec.Status, fmt.Errorf("%w: source file for job %s is no longer available", domain.ErrInvalidState, jobID)
	}

	st, err := s.statuses.Reset(ctx, jobID)
	if err != nil {
		return st, err
	}
	s.manager.Submit(rec.Job())

	s.logger.Info().Str("job_id", jobID).Msg("Job resubmitted")
	return st, nil
}

// Metrics returns a snapshot of the manager and worker pool.
func (s *Service) Metrics() Metrics {
	return Metrics{
		ProcessingManager: s.manager.Metrics(),
		WorkerPool:        s.pool.Metrics(),
		UptimeSeconds:     time.Since(s.started).Seconds(),
		Version:           config.Version,
	}
}

// CheckRenderer reports whether the external renderer is usable.
func (s *Service) CheckRenderer(ctx context.Context) error {
	return s.renderer.Check(ctx)
}

// ClearCache removes one cache entry, or all of them when key is empty.
func (s *Service) ClearCache(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}
	if key == "" {
		return s.cache.ClearAll(ctx)
	}
	return s.cache.Clear(ctx, key)
}

// StageUpload copies r into the upload directory under a per-job folder and
// returns the stored path.
func (s *Service) StageUpload(jobID, filename string, r io.Reader) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", domain.ValidationError("file name is required", nil)
	}
	if !strings.EqualFold(filepath.Ext(name), SupportedExtension) {
		return "", domain.ValidationError(
			fmt.Sprintf("unsupported file type %q, only %s is accepted", filepath.Ext(name), SupportedExtension), nil)
	}

	dir := filepath.Join(s.cfg.Processing.UploadDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.IOError("failed to create upload directory", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", domain.IOError("failed to store upload", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.RemoveAll(dir)
		return "", domain.IOError("failed to store upload", err)
	}
	if err := f.Close(); err != nil {
		os.RemoveAll(dir)
		return "", domain.IOError("failed to store upload", err)
	}
	return path, nil
}

func (s *Service) runJanitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Status.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep prunes old terminal statuses from memory and removes upload
// directories of jobs that failed, or are unknown, for longer than the
// retention period.
func (s *Service) Sweep(ctx context.Context) {
	retention := s.cfg.Status.Retention
	if retention <= 0 {
		return
	}
	pruned := s.statuses.Prune(retention)

	entries, err := os.ReadDir(s.cfg.Processing.UploadDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list upload directory")
		return
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if s.staleUpload(ctx, e, cutoff) {
			dir := filepath.Join(s.cfg.Processing.UploadDir, e.Name())
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove stale upload")
				continue
			}
			removed++
		}
	}

	if pruned > 0 || removed > 0 {
		s.logger.Info().Int("statuses_pruned", pruned).Int("uploads_removed", removed).Msg("Janitor sweep finished")
	}
}

func (s *Service) staleUpload(ctx context.Context, e os.DirEntry, cutoff time.Time) bool {
	rec, err := s.statuses.Record(ctx, e.Name())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return false
		}
		info, err := e.Info()
		return err == nil && info.ModTime().Before(cutoff)
	}
	return rec.Status.State == domain.JobStateFailed && rec.Status.UpdatedAt.Before(cutoff)
}
