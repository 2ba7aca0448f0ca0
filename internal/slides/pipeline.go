package slides

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/artifacts"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx"
)

// Config configures a Pipeline.
type Config struct {
	SlidesBucket        string
	ThumbnailWidth      int
	SegmentMaxLength    int
	TitleMinHeightRatio float64
	Match               MatchConfig
}

// Input is everything needed to process one slide.
type Input struct {
	SessionID          string
	Deck               *pptx.Presentation
	Slide              *pptx.Slide
	SVGPath            string
	WorkDir            string
	GenerateThumbnails bool
}

// Pipeline processes a single rendered slide.
type Pipeline struct {
	extractor *Extractor
	validator *Validator
	store     artifacts.Store
	cfg       Config
	logger    *observability.Logger
}

// NewPipeline creates a pipeline uploading to store.
func NewPipeline(store artifacts.Store, cfg Config, logger *observability.Logger) *Pipeline {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = DefaultThumbnailWidth
	}
	if cfg.Match == (MatchConfig{}) {
		cfg.Match = DefaultMatchConfig()
	}
	return &Pipeline{
		extractor: NewExtractor(ExtractorConfig{
			SegmentMaxLength:    cfg.SegmentMaxLength,
			TitleMinHeightRatio: cfg.TitleMinHeightRatio,
		}),
		validator: NewValidator(cfg.Match),
		store:     store,
		cfg:       cfg,
		logger:    logger.WithOperation("slide_pipeline"),
	}
}

// Process extracts, validates and uploads one slide. Errors that should abort
// the whole document are reported by IsFatal.
func (p *Pipeline) Process(ctx context.Context, in Input) (domain.Slide, error) {
	start := time.Now()
	n := in.Slide.Number
	w, h := float64(in.Deck.SlideWidth), float64(in.Deck.SlideHeight)

	slide := domain.Slide{
		ID:          uuid.NewString(),
		SlideNumber: n,
		Width:       w,
		Height:      h,
		Unit:        domain.UnitEMU,
		Shapes:      []domain.Shape{},
	}

	shapes, err := p.extractor.Extract(in.Deck, in.Slide)
	if err != nil {
		return slide, err
	}

	svg, err := ReadSVGFile(in.SVGPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return slide, domain.RenderError(fmt.Sprintf("rendered image for slide %d is missing", n), err)
		}
		p.logger.Warn().Err(err).Slide(n).Msg("Could not parse SVG, keeping extracted coordinates")
	}
	matched := p.validator.Validate(shapes, svg, w, h)
	if shapes != nil {
		slide.Shapes = shapes
	}

	if err := ctx.Err(); err != nil {
		return slide, err
	}

	url, err := p.store.Upload(ctx, in.SVGPath, p.cfg.SlidesBucket, SlideKey(in.SessionID, n))
	if err != nil {
		return slide, uploadFailure(err)
	}
	slide.VectorImageReference = url

	if in.GenerateThumbnails {
		thumbURL, err := p.thumbnail(ctx, in, slide)
		if err != nil {
			if IsFatal(err) {
				return slide, err
			}
			p.logger.Warn().Err(err).Slide(n).Msg("Thumbnail generation failed")
		}
		slide.ThumbnailReference = thumbURL
	}

	p.logger.Debug().
		Slide(n).
		Int("shapes", len(slide.Shapes)).
		Int("validated", matched).
		Elapsed(start).
		Msg("Slide processed")
	return slide, nil
}

func (p *Pipeline) thumbnail(ctx context.Context, in Input, slide domain.Slide) (string, error) {
	dir := in.WorkDir
	if dir == "" {
		dir = filepath.Dir(in.SVGPath)
	}
	path := filepath.Join(dir, ThumbnailFileName(slide.SlideNumber))

	f, err := os.Create(path)
	if err != nil {
		return "", domain.IOError("failed to create thumbnail", err)
	}
	err = RenderThumbnail(f, slide.Shapes, slide.Width, slide.Height, p.cfg.ThumbnailWidth)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", domain.IOError("failed to encode thumbnail", err)
	}

	url, err := p.store.Upload(ctx, path, p.cfg.SlidesBucket, ThumbnailKey(in.SessionID, slide.SlideNumber))
	if err != nil {
		return "", uploadFailure(err)
	}
	return url, nil
}

func uploadFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if domain.IsType(err, domain.ErrorTypeUpload) {
		return err
	}
	return domain.UploadError("artifact upload failed", err)
}

// IsFatal reports whether a slide error must fail the whole document rather
// than produce a placeholder slide.
func IsFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		domain.IsType(err, domain.ErrorTypeUpload)
}

// Placeholder stands in for a slide whose pipeline failed.
func Placeholder(number int, width, height float64, cause error) domain.Slide {
	s := domain.Slide{
		ID:                   uuid.NewString(),
		SlideNumber:          number,
		Width:                width,
		Height:               height,
		Unit:                 domain.UnitEMU,
		VectorImageReference: domain.PlaceholderImageReference(number),
		Shapes:               []domain.Shape{},
		Placeholder:          true,
	}
	if cause != nil {
		s.Error = domain.UserMessage(cause)
	}
	return s
}

// SlideKey is the object key of a slide's SVG.
func SlideKey(sessionID string, n int) string {
	return fmt.Sprintf("%s/slides/slide_%d.svg", sessionID, n)
}

// ThumbnailKey is the object key of a slide's thumbnail.
func ThumbnailKey(sessionID string, n int) string {
	return fmt.Sprintf("%s/thumbnails/thumbnail_%d.png", sessionID, n)
}

// ThumbnailFileName is the local file name of a slide's thumbnail.
func ThumbnailFileName(n int) string {
	return fmt.Sprintf("thumbnail_%d.png", n)
}
