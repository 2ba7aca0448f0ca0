package slides

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Upload(ctx context.Context, filePath, bucket, dest string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+dest] = data
	return "mem://" + bucket + "/" + dest, nil
}

func (m *memStore) Download(ctx context.Context, bucket, src, destPath string) (string, error) {
	return "", domain.ErrNotFound
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const slideSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="720pt" height="405pt" viewBox="0 0 720 405">
<text transform="matrix(1,0,0,1,36,40)"><tspan x="0" y="0">Quarterly Review</tspan></text>
</svg>`

func pipelineInput(t *testing.T, svg string) Input {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "slide_1.svg")
	require.NoError(t, os.WriteFile(path, []byte(svg), 0o644))

	deck, slide := deckWith(
		textElement("Title", &pptx.Placeholder{Type: "title"}, pptx.Rect{X: 457200, Y: 274638, Width: 8229600, Height: 857250}, "Quarterly Review"),
		textElement("Body", nil, pptx.Rect{X: 457200, Y: 1600200, Width: 8229600, Height: 2000000}, "Revenue grew in every region."),
	)
	return Input{SessionID: "sess-1", Deck: deck, Slide: slide, SVGPath: path, WorkDir: dir, GenerateThumbnails: true}
}

func TestPipeline_Process(t *testing.T) {
	store := newMemStore()
	p := NewPipeline(store, Config{SlidesBucket: "slide-visuals"}, nil)

	slide, err := p.Process(context.Background(), pipelineInput(t, slideSVG))
	require.NoError(t, err)

	assert.Equal(t, 1, slide.SlideNumber)
	assert.Equal(t, float64(deckW), slide.Width)
	assert.Equal(t, domain.UnitEMU, slide.Unit)
	assert.NotEmpty(t, slide.ID)
	assert.False(t, slide.Placeholder)
	assert.Equal(t, "mem://slide-visuals/sess-1/slides/slide_1.svg", slide.VectorImageReference)
	assert.Equal(t, "mem://slide-visuals/sess-1/thumbnails/thumbnail_1.png", slide.ThumbnailReference)
	assert.Equal(t, []string{
		"slide-visuals/sess-1/slides/slide_1.svg",
		"slide-visuals/sess-1/thumbnails/thumbnail_1.png",
	}, store.keys())

	require.Len(t, slide.Shapes, 2)
	title := slide.Shapes[0]
	assert.Equal(t, "Quarterly Review", title.PlainText())
	assert.True(t, title.Validation.Matched)
	assert.Equal(t, domain.SourceValidated, title.Validation.SourceOfTruth)
	assert.InDelta(t, 457200, title.BoundingBox.X, 1)
	assert.InDelta(t, 508000, title.BoundingBox.Y, 1)

	bodyShape := slide.Shapes[1]
	assert.False(t, bodyShape.Validation.Matched)
	assert.Equal(t, domain.SourceExtracted, bodyShape.Validation.SourceOfTruth)
}

func TestPipeline_NoThumbnailWhenNotRequested(t *testing.T) {
	store := newMemStore()
	in := pipelineInput(t, slideSVG)
	in.GenerateThumbnails = false

	slide, err := NewPipeline(store, Config{SlidesBucket: "b"}, nil).Process(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, slide.ThumbnailReference)
	assert.Equal(t, []string{"b/sess-1/slides/slide_1.svg"}, store.keys())
}

func TestPipeline_UnparseableSVGKeepsExtractedCoordinates(t *testing.T) {
	slide, err := NewPipeline(newMemStore(), Config{SlidesBucket: "b"}, nil).
		Process(context.Background(), pipelineInput(t, "not svg at all"))
	require.NoError(t, err)
	for _, s := range slide.Shapes {
		assert.False(t, s.Validation.Matched)
	}
	assert.Equal(t, 457200.0, slide.Shapes[0].BoundingBox.X)
}

func TestPipeline_MissingSVGIsSlideFailure(t *testing.T) {
	in := pipelineInput(t, slideSVG)
	in.SVGPath = filepath.Join(t.TempDir(), "missing.svg")

	_, err := NewPipeline(newMemStore(), Config{SlidesBucket: "b"}, nil).Process(context.Background(), in)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestPipeline_ExtractionFailureIsNotFatal(t *testing.T) {
	in := pipelineInput(t, slideSVG)
	in.Slide.Err = errors.New("bad xml")

	_, err := NewPipeline(newMemStore(), Config{SlidesBucket: "b"}, nil).Process(context.Background(), in)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestPipeline_UploadFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")

	_, err := NewPipeline(store, Config{SlidesBucket: "b"}, nil).Process(context.Background(), pipelineInput(t, slideSVG))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, domain.IsType(err, domain.ErrorTypeUpload))
}

func TestPipeline_CancelledContextIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(newMemStore(), Config{SlidesBucket: "b"}, nil).Process(ctx, pipelineInput(t, slideSVG))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsFatal(err))
}

func TestPlaceholder(t *testing.T) {
	s := Placeholder(4, deckW, deckH, domain.ExtractionError("failed to read slide 4", errors.New("bad xml")))
	assert.True(t, s.Placeholder)
	assert.Equal(t, "placeholder://slide/4", s.VectorImageReference)
	assert.Empty(t, s.Shapes)
	assert.NotNil(t, s.Shapes)
	assert.Equal(t, "failed to read slide 4: bad xml", s.Error)
	assert.Equal(t, domain.UnitEMU, s.Unit)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "abc/slides/slide_12.svg", SlideKey("abc", 12))
	assert.Equal(t, "abc/thumbnails/thumbnail_3.png", ThumbnailKey("abc", 3))
}
