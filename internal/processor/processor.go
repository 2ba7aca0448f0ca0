// Package processor drives a conversion job from the uploaded source file to
// the uploaded result document, and exposes the service used by the API and
// the CLI.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/artifacts"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/cache"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/jobstatus"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/render"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/slides"
)

// Stage names written to JobStatus.CurrentStage.
const (
	StageStarting  = "Starting processing"
	StageRendering = "Converting slides"
	StageUploading = "Uploading results"
	StageCompleted = "Processing completed"
	StageFromCache = "Processing completed (from cache)"
	StageFailed    = "Processing failed"
)

// MsgInterrupted is the error recorded for jobs cut off by a restart.
const MsgInterrupted = "processing was interrupted by a service restart"

const failureWriteTimeout = 10 * time.Second

// ResultRepository persists finished sessions for later reconstruction.
type ResultRepository interface {
	SaveResult(ctx context.Context, doc *domain.ResultDocument, location string) error
	SaveFailure(ctx context.Context, sessionID, jobID, message string) error
	LoadResult(ctx context.Context, sessionID string) (*domain.ResultDocument, error)
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	WorkDir          string
	ResultsBucket    string
	SlideConcurrency int
}

// Processor converts one job at a time. It is safe to run several Process
// calls concurrently.
type Processor struct {
	statuses  *jobstatus.Store
	cache     *cache.ResultStore
	renderer  render.Renderer
	pipeline  *slides.Pipeline
	artifacts artifacts.Store
	results   ResultRepository
	cfg       ProcessorConfig
	logger    *observability.Logger

	open func(path string) (*pptx.Presentation, error)
	now  func() time.Time
}

// NewProcessor creates a processor. cache and results may be nil.
func NewProcessor(
	statuses *jobstatus.Store,
	resultCache *cache.ResultStore,
	renderer render.Renderer,
	pipeline *slides.Pipeline,
	store artifacts.Store,
	results ResultRepository,
	cfg ProcessorConfig,
	logger *observability.Logger,
) *Processor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.SlideConcurrency <= 0 {
		cfg.SlideConcurrency = 1
	}
	return &Processor{
		statuses:  statuses,
		cache:     resultCache,
		renderer:  renderer,
		pipeline:  pipeline,
		artifacts: store,
		results:   results,
		cfg:       cfg,
		logger:    logger.WithOperation("processor"),
		open:      pptx.Open,
		now:       time.Now,
	}
}

// Process runs the job to a terminal status. It is the only writer of the
// Failed state.
func (p *Processor) Process(ctx context.Context, job domain.Job) error {
	log := p.logger.WithJob(job.ID, job.SessionID)
	start := p.now()

	workDir := filepath.Join(p.cfg.WorkDir, job.ID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove work directory")
		}
	}()

	if _, err := p.statuses.Update(ctx, job.ID, domain.StatusUpdate{
		State:        domain.Ptr(domain.JobStateProcessing),
		Progress:     domain.Ptr(1),
		CurrentStage: domain.Ptr(StageStarting),
		Message:      domain.Ptr("Processing started"),
	}); err != nil {
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}

	key, keyOK := cache.GenerateKey(job.SourcePath, job.Options.CacheParams())
	if keyOK && p.cache != nil {
		if doc, location, hit := p.cache.Get(ctx, key); hit {
			return p.completeFromCache(ctx, job, doc, location, log)
		}
	}

	doc, location, err := p.convert(ctx, job, workDir, log)
	if err != nil {
		p.fail(ctx, job, err, log)
		return err
	}

	if p.cache != nil {
		if keyOK {
			p.cache.Put(ctx, key, doc, location)
		}
		p.cache.Put(ctx, SessionCacheKey(job.SessionID), doc, location)
	}

	msg := fmt.Sprintf("Processed %d slides", doc.SlideCount)
	if doc.OverallStatus == domain.OverallPartiallyCompleted {
		msg = fmt.Sprintf("Processed %d slides, %d could not be converted", doc.SlideCount, placeholders(doc))
	}
	if _, err := p.statuses.Update(ctx, job.ID, domain.StatusUpdate{
		State:          domain.Ptr(domain.JobStateCompleted),
		Progress:       domain.Ptr(100),
		CurrentStage:   domain.Ptr(StageCompleted),
		Message:        domain.Ptr(msg),
		ResultLocation: domain.Ptr(location),
		SlideCount:     domain.Ptr(doc.SlideCount),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to record completion")
		return err
	}
	p.removeSource(job, log)

	log.Info().
		Int("slides", doc.SlideCount).
		Str("overall_status", string(doc.OverallStatus)).
		Dur("duration", p.now().Sub(start)).
		Msg("Job completed")
	return nil
}

func (p *Processor) completeFromCache(ctx context.Context, job domain.Job, cached *domain.ResultDocument, location string, log *observability.Logger) error {
	doc := *cached
	doc.SessionID = job.SessionID
	doc.JobID = job.ID
	p.cache.Put(ctx, SessionCacheKey(job.SessionID), &doc, location)

	if _, err := p.statuses.Update(ctx, job.ID, domain.StatusUpdate{
		State:          domain.Ptr(domain.JobStateCompleted),
		Progress:       domain.Ptr(100),
		CurrentStage:   domain.Ptr(StageFromCache),
		Message:        domain.Ptr(fmt.Sprintf("Processed %d slides (cached result)", doc.SlideCount)),
		ResultLocation: domain.Ptr(location),
		SlideCount:     domain.Ptr(doc.SlideCount),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to record completion")
		return err
	}
	p.removeSource(job, log)

	log.Info().Int("slides", doc.SlideCount).Msg("Job completed from cache")
	return nil
}

func (p *Processor) convert(ctx context.Context, job domain.Job, workDir string, log *observability.Logger) (*domain.ResultDocument, string, error) {
	start := p.now()

	if err := p.renderer.Check(ctx); err != nil {
		if !domain.IsType(err, domain.ErrorTypeConfig) {
			err = domain.ConfigError("renderer unavailable", err)
		}
		return nil, "", err
	}

	deck, err := p.open(job.SourcePath)
	if err != nil {
		return nil, "", domain.ValidationError("failed to open presentation", err)
	}
	n := deck.SlideCount()
	if n == 0 {
		return nil, "", domain.ValidationError("presentation has no slides", nil)
	}
	p.progress(ctx, job.ID, 5, fmt.Sprintf("Opened presentation with %d slides", n), domain.Ptr(n), log)

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, "", domain.IOError("failed to create work directory", err)
	}

	p.progress(ctx, job.ID, 10, StageRendering, nil, log)
	pages, err := p.renderer.Render(ctx, job.SourcePath, filepath.Join(workDir, "render"), n)
	if err != nil {
		return nil, "", err
	}

	results, status, err := p.processSlides(ctx, job, deck, pages, workDir, log)
	if err != nil {
		return nil, "", err
	}

	p.progress(ctx, job.ID, 95, StageUploading, nil, log)
	doc := &domain.ResultDocument{
		SessionID:          job.SessionID,
		JobID:              job.ID,
		SlideCount:         n,
		OverallStatus:      status,
		ProcessingDuration: p.now().Sub(start).Seconds(),
		Slides:             results,
		CreatedAt:          p.now().UTC(),
	}

	location, err := p.uploadResult(ctx, doc, workDir)
	if err != nil {
		return nil, "", err
	}

	if p.results != nil {
		if err := p.results.SaveResult(ctx, doc, location); err != nil {
			log.Warn().Err(err).Msg("Failed to persist result to the database")
		}
	}
	return doc, location, nil
}

// processSlides runs the slide pipeline with bounded concurrency. A failed
// slide becomes a placeholder unless the failure is fatal for the document.
func (p *Processor) processSlides(
	ctx context.Context,
	job domain.Job,
	deck *pptx.Presentation,
	pages map[int]string,
	workDir string,
	log *observability.Logger,
) ([]domain.Slide, domain.OverallStatus, error) {
	n := deck.SlideCount()
	out := make([]domain.Slide, n)

	// mu guards done and firstErr and orders progress updates, so the
	// reported slide count only moves forward.
	var (
		failed   atomic.Int64
		mu       sync.Mutex
		done     int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SlideConcurrency)

	for i, s := range deck.Slides {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slide, err := p.pipeline.Process(gctx, slides.Input{
				SessionID:          job.SessionID,
				Deck:               deck,
				Slide:              s,
				SVGPath:            pages[s.Number],
				WorkDir:            workDir,
				GenerateThumbnails: job.Options.GenerateThumbnails,
			})
			if err != nil {
				if slides.IsFatal(err) {
					return err
				}
				log.Warn().Err(err).Slide(s.Number).Msg("Slide failed, using placeholder")
				slide = slides.Placeholder(s.Number, float64(deck.SlideWidth), float64(deck.SlideHeight), err)
				failed.Add(1)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			out[i] = slide

			mu.Lock()
			done++
			p.progress(ctx, job.ID, 20+75*done/n, fmt.Sprintf("Processing slide %d of %d", done, n), nil, log)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", err
	}

	switch f := int(failed.Load()); {
	case f == n:
		return nil, "", domain.ExtractionError(fmt.Sprintf("all %d slides failed to process", n), firstErr)
	case f > 0:
		return out, domain.OverallPartiallyCompleted, nil
	default:
		return out, domain.OverallCompleted, nil
	}
}

func (p *Processor) uploadResult(ctx context.Context, doc *domain.ResultDocument, workDir string) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", domain.IOError("failed to encode result", err)
	}
	path := filepath.Join(workDir, fmt.Sprintf("result_%s.json", doc.SessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", domain.IOError("failed to write result", err)
	}

	location, err := p.artifacts.Upload(ctx, path, p.cfg.ResultsBucket, ResultKey(doc.SessionID))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !domain.IsType(err, domain.ErrorTypeUpload) {
			err = domain.UploadError("failed to upload result", err)
		}
		return "", err
	}
	return location, nil
}

func (p *Processor) progress(ctx context.Context, jobID string, pct int, stage string, slideCount *int, log *observability.Logger) {
	if _, err := p.statuses.Update(ctx, jobID, domain.StatusUpdate{
		Progress:     domain.Ptr(pct),
		CurrentStage: domain.Ptr(stage),
		Message:      domain.Ptr(stage),
		SlideCount:   slideCount,
	}); err != nil {
		log.Warn().Err(err).Int("progress", pct).Msg("Failed to update progress")
	}
}

// fail records the terminal Failed state. The source file is kept so the job
// can be retried.
func (p *Processor) fail(ctx context.Context, job domain.Job, cause error, log *observability.Logger) {
	msg := domain.UserMessage(cause)
	if errors.Is(cause, context.Canceled) {
		msg = "processing was cancelled"
	}
	log.Error().Err(cause).Msg("Job failed")

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if _, err := p.statuses.Update(wctx, job.ID, domain.StatusUpdate{
		State:        domain.Ptr(domain.JobStateFailed),
		CurrentStage: domain.Ptr(StageFailed),
		Message:      domain.Ptr("Processing failed"),
		Error:        domain.Ptr(msg),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to record failure")
	}

	if p.results != nil {
		if err := p.results.SaveFailure(wctx, job.SessionID, job.ID, msg); err != nil {
			log.Warn().Err(err).Msg("Failed to persist failed session")
		}
	}
}

// removeSource deletes the uploaded file and its per-job directory.
func (p *Processor) removeSource(job domain.Job, log *observability.Logger) {
	if job.SourcePath == "" {
		return
	}
	if err := os.Remove(job.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", job.SourcePath).Msg("Failed to remove source file")
		return
	}
	if dir := filepath.Dir(job.SourcePath); filepath.Base(dir) == job.ID {
		os.Remove(dir)
	}
}

func placeholders(doc *domain.ResultDocument) int {
	n := 0
	for _, s := range doc.Slides {
		if s.Placeholder {
			n++
		}
	}
	return n
}

// ResultKey is the object key of a session's result document.
func ResultKey(sessionID string) string {
	return sessionID + "/result.json"
}

// SessionCacheKey indexes a finished result by session in the result cache.
func SessionCacheKey(sessionID string) string {
	return "session-" + sessionID
}
