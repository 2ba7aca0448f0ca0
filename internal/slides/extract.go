// Package slides runs the per-slide pipeline: shape extraction, coordinate
// validation against the rendered SVG, text segmentation, thumbnails and
// artifact upload.
package slides

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx"
)

// Translation priorities.
const (
	PriorityTitle    = 10
	PrioritySubtitle = 8
	PriorityLong     = 7
	PriorityDefault  = 5
	PriorityShort    = 3
)

// titleZone is the fraction of the slide height a heuristic title must start in.
const titleZone = 0.3

// ExtractorConfig tunes shape extraction.
type ExtractorConfig struct {
	SegmentMaxLength    int
	TitleMinHeightRatio float64
}

// Extractor turns parsed slide elements into domain shapes.
type Extractor struct {
	cfg   ExtractorConfig
	newID func() string
}

// NewExtractor creates an extractor. Zero config values fall back to defaults.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.SegmentMaxLength <= 0 {
		cfg.SegmentMaxLength = DefaultSegmentMaxLength
	}
	if cfg.TitleMinHeightRatio <= 0 {
		cfg.TitleMinHeightRatio = 0.05
	}
	return &Extractor{cfg: cfg, newID: uuid.NewString}
}

// Extract returns the slide's shapes in reading order. Elements without a
// resolvable frame and text shapes without text are skipped.
func (e *Extractor) Extract(deck *pptx.Presentation, slide *pptx.Slide) ([]domain.Shape, error) {
	if slide == nil {
		return nil, domain.ExtractionError("slide is missing", nil)
	}
	if slide.Err != nil {
		return nil, domain.ExtractionError(fmt.Sprintf("failed to read slide %d", slide.Number), slide.Err)
	}

	slideH := float64(deck.SlideHeight)
	var shapes []domain.Shape

	for _, el := range slide.Elements {
		switch el.Kind {
		case pptx.ElementText:
			if !el.HasFrame {
				continue
			}
			text := strings.TrimSpace(el.Text.Text())
			if text == "" {
				continue
			}
			content := e.textContent(text, el.Text)
			content.PlaceholderType = placeholderType(el.Placeholder)
			content.IsTitle, content.IsSubtitle = e.classify(el, slideH)
			content.TranslationPriority = priority(content)
			shape, err := domain.NewTextShape(e.newID(), domain.ShapeKindText, box(el.Frame), content)
			if err != nil {
				return nil, err
			}
			shapes = append(shapes, shape)

		case pptx.ElementPicture:
			if !el.HasFrame {
				continue
			}
			img := domain.ImageContent{Name: el.Name, AltText: el.Description}
			if el.Image != nil {
				img.ContentType = el.Image.ContentType
			}
			shapes = append(shapes, domain.NewImageShape(e.newID(), box(el.Frame), img))

		case pptx.ElementTable:
			if el.Table == nil {
				continue
			}
			for _, row := range el.Table.Rows {
				for _, cell := range row.Cells {
					text := strings.TrimSpace(cell.Text.Text())
					if text == "" {
						continue
					}
					content := e.textContent(text, cell.Text)
					content.Row = domain.Ptr(cell.Row)
					content.Column = domain.Ptr(cell.Column)
					content.TranslationPriority = priority(content)
					shape, err := domain.NewTextShape(e.newID(), domain.ShapeKindTableCell, box(cell.Frame), content)
					if err != nil {
						return nil, err
					}
					shapes = append(shapes, shape)
				}
			}

		case pptx.ElementChart:
			if !el.HasFrame {
				continue
			}
			text := strings.TrimSpace(el.Text.Text())
			if text == "" {
				continue
			}
			content := e.textContent(text, el.Text)
			content.TranslationPriority = priority(content)
			shape, err := domain.NewTextShape(e.newID(), domain.ShapeKindChartText, box(el.Frame), content)
			if err != nil {
				return nil, err
			}
			shapes = append(shapes, shape)
		}
	}

	AssignReadingOrder(shapes)
	return shapes, nil
}

func (e *Extractor) textContent(text string, body *pptx.TextBody) domain.TextContent {
	return domain.TextContent{
		Text:      text,
		Style:     styleOf(body),
		WordCount: len(strings.Fields(text)),
		CharCount: runeLen(text),
		Segments:  Segment(text, e.cfg.SegmentMaxLength),
	}
}

// classify prefers the placeholder type and otherwise treats large text near
// the top of the slide as a title.
func (e *Extractor) classify(el pptx.Element, slideH float64) (title, subtitle bool) {
	if el.Placeholder.IsTitle() {
		return true, false
	}
	if el.Placeholder.IsSubtitle() {
		return false, true
	}
	if slideH <= 0 {
		return false, false
	}
	y := float64(el.Frame.Y)
	h := float64(el.Frame.Height)
	return y < titleZone*slideH && h > e.cfg.TitleMinHeightRatio*slideH, false
}

func priority(c domain.TextContent) int {
	switch {
	case c.IsTitle:
		return PriorityTitle
	case c.IsSubtitle:
		return PrioritySubtitle
	case c.WordCount > 20:
		return PriorityLong
	case c.WordCount < 5:
		return PriorityShort
	default:
		return PriorityDefault
	}
}

var alignments = map[string]string{
	"l":    "LEFT",
	"ctr":  "CENTER",
	"r":    "RIGHT",
	"just": "JUSTIFY",
	"dist": "DISTRIBUTE",
}

var anchors = map[string]string{
	"t":   "TOP",
	"ctr": "MIDDLE",
	"b":   "BOTTOM",
}

func styleOf(body *pptx.TextBody) domain.TextStyle {
	style := domain.DefaultTextStyle()
	if body == nil {
		return style
	}
	if a, ok := anchors[body.Anchor]; ok {
		style.VerticalAnchor = a
	}

	para, run, _ := body.FirstRun()
	if a, ok := alignments[para.Align]; ok {
		style.Alignment = a
	}
	if para.LineSpacing > 0 {
		style.LineSpacing = para.LineSpacing
	}
	if run.Typeface != "" {
		style.FontFamily = run.Typeface
	}
	if run.SizePt > 0 {
		style.FontSize = run.SizePt
	}
	if run.Bold != nil && *run.Bold {
		style.FontWeight = "bold"
	}
	if run.Italic != nil && *run.Italic {
		style.FontStyle = "italic"
	}
	if run.Color != "" {
		style.Color = run.Color
	}
	return style
}

func placeholderType(p *pptx.Placeholder) string {
	if p == nil {
		return ""
	}
	return p.Type
}

func box(r pptx.Rect) domain.BoundingBox {
	return domain.BoundingBox{
		X:      float64(r.X),
		Y:      float64(r.Y),
		Width:  float64(r.Width),
		Height: float64(r.Height),
		Unit:   domain.UnitEMU,
	}
}

// AssignReadingOrder sorts shapes top to bottom, then left to right, and
// numbers them from 1.
func AssignReadingOrder(shapes []domain.Shape) {
	sort.SliceStable(shapes, func(i, j int) bool {
		a, b := shapes[i].BoundingBox, shapes[j].BoundingBox
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	for i := range shapes {
		shapes[i].ReadingOrder = i + 1
	}
}
