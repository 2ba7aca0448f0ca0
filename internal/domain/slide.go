package domain

import (
	"fmt"
	"time"
)

// CoordinateUnit tags the unit of a length.
type CoordinateUnit string

const (
	UnitEMU        CoordinateUnit = "emu"
	UnitPixel      CoordinateUnit = "px"
	UnitPercentage CoordinateUnit = "percentage"
)

// ShapeKind discriminates the Shape variant.
type ShapeKind string

const (
	ShapeKindText      ShapeKind = "text"
	ShapeKindImage     ShapeKind = "image"
	ShapeKindTableCell ShapeKind = "table_cell"
	ShapeKindChartText ShapeKind = "chart_text"
)

// IsTextBearing reports whether shapes of this kind carry a text payload.
func (k ShapeKind) IsTextBearing() bool {
	return k == ShapeKindText || k == ShapeKindTableCell || k == ShapeKindChartText
}

// SourceOfTruth records where a shape's coordinates came from.
type SourceOfTruth string

const (
	SourceExtracted SourceOfTruth = "extracted"
	SourceValidated SourceOfTruth = "validated"
)

// OverallStatus is the terminal outcome of a document conversion.
type OverallStatus string

const (
	OverallCompleted          OverallStatus = "completed"
	OverallPartiallyCompleted OverallStatus = "partially_completed"
	OverallFailed             OverallStatus = "failed"
)

// BoundingBox locates a shape on its slide.
type BoundingBox struct {
	X      float64        `json:"x"`
	Y      float64        `json:"y"`
	Width  float64        `json:"width"`
	Height float64        `json:"height"`
	Unit   CoordinateUnit `json:"unit"`
}

// TextStyle is taken from the first run of the first paragraph.
type TextStyle struct {
	FontFamily     string  `json:"font_family"`
	FontSize       float64 `json:"font_size"`
	FontWeight     string  `json:"font_weight"`
	FontStyle      string  `json:"font_style"`
	Color          string  `json:"color"`
	Alignment      string  `json:"alignment"`
	VerticalAnchor string  `json:"vertical_anchor"`
	LineSpacing    float64 `json:"line_spacing"`
}

// DefaultTextStyle is applied wherever the document leaves a property unset.
func DefaultTextStyle() TextStyle {
	return TextStyle{
		FontFamily:     "Arial",
		FontSize:       12,
		FontWeight:     "normal",
		FontStyle:      "normal",
		Color:          "#000000",
		Alignment:      "LEFT",
		VerticalAnchor: "TOP",
		LineSpacing:    1.0,
	}
}

// TextSegment is a translation sized chunk of a shape's text.
type TextSegment struct {
	Text               string `json:"text"`
	SegmentIndex       int    `json:"segment_index"`
	IsCompleteSentence bool   `json:"is_complete_sentence"`
	WordCount          int    `json:"word_count"`
	CharCount          int    `json:"char_count"`
}

// TextContent is the payload of text bearing shapes.
type TextContent struct {
	Text                string        `json:"text"`
	Style               TextStyle     `json:"style"`
	PlaceholderType     string        `json:"placeholder_type,omitempty"`
	IsTitle             bool          `json:"is_title"`
	IsSubtitle          bool          `json:"is_subtitle"`
	TranslationPriority int           `json:"translation_priority"`
	WordCount           int           `json:"word_count"`
	CharCount           int           `json:"char_count"`
	Segments            []TextSegment `json:"text_segments"`
	Row                 *int          `json:"row,omitempty"`
	Column              *int          `json:"column,omitempty"`
}

// ImageContent is the payload of image shapes.
type ImageContent struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
}

// Validation holds coordinate cross-validation metadata.
type Validation struct {
	Score         float64       `json:"validation_score"`
	Matched       bool          `json:"matched"`
	Strategy      string        `json:"strategy,omitempty"`
	SourceOfTruth SourceOfTruth `json:"source_of_truth"`
}

// Shape is one extracted content element. Exactly one of Text or Image is
// set, depending on Kind.
type Shape struct {
	ID           string        `json:"shape_id"`
	Kind         ShapeKind     `json:"kind"`
	BoundingBox  BoundingBox   `json:"bounding_box"`
	ReadingOrder int           `json:"reading_order"`
	Validation   Validation    `json:"validation"`
	Text         *TextContent  `json:"text,omitempty"`
	Image        *ImageContent `json:"image,omitempty"`
}

// NewTextShape builds a text bearing shape of the given kind.
func NewTextShape(id string, kind ShapeKind, box BoundingBox, text TextContent) (Shape, error) {
	if !kind.IsTextBearing() {
		return Shape{}, ValidationError(fmt.Sprintf("shape kind %q cannot carry text", kind), nil)
	}
	return Shape{
		ID:          id,
		Kind:        kind,
		BoundingBox: box,
		Validation:  Validation{SourceOfTruth: SourceExtracted},
		Text:        &text,
	}, nil
}

// NewImageShape builds an image shape.
func NewImageShape(id string, box BoundingBox, image ImageContent) Shape {
	return Shape{
		ID:          id,
		Kind:        ShapeKindImage,
		BoundingBox: box,
		Validation:  Validation{SourceOfTruth: SourceExtracted},
		Image:       &image,
	}
}

// Validate rejects shapes whose payload does not match their kind.
func (s Shape) Validate() error {
	switch {
	case s.Kind.IsTextBearing():
		if s.Text == nil || s.Image != nil {
			return ValidationError(fmt.Sprintf("shape %s: %s requires a text payload only", s.ID, s.Kind), nil)
		}
		if s.Kind != ShapeKindTableCell && (s.Text.Row != nil || s.Text.Column != nil) {
			return ValidationError(fmt.Sprintf("shape %s: row/column only valid on table cells", s.ID), nil)
		}
	case s.Kind == ShapeKindImage:
		if s.Image == nil || s.Text != nil {
			return ValidationError(fmt.Sprintf("shape %s: image requires an image payload only", s.ID), nil)
		}
	default:
		return ValidationError(fmt.Sprintf("shape %s: unknown kind %q", s.ID, s.Kind), nil)
	}
	if s.ReadingOrder < 1 {
		return ValidationError(fmt.Sprintf("shape %s: reading order must be 1-based", s.ID), nil)
	}
	return nil
}

// PlainText returns the shape's text, or "" for images.
func (s Shape) PlainText() string {
	if s.Text == nil {
		return ""
	}
	return s.Text.Text
}

// Slide is one page of the source document.
type Slide struct {
	ID                   string         `json:"slide_id"`
	SlideNumber          int            `json:"slide_number"`
	Width                float64        `json:"width"`
	Height               float64        `json:"height"`
	Unit                 CoordinateUnit `json:"unit"`
	VectorImageReference string         `json:"svg_url"`
	ThumbnailReference   string         `json:"thumbnail_url,omitempty"`
	Shapes               []Shape        `json:"shapes"`
	Placeholder          bool           `json:"placeholder,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// PlaceholderImageReference marks a slide whose pipeline failed.
func PlaceholderImageReference(slideNumber int) string {
	return fmt.Sprintf("placeholder://slide/%d", slideNumber)
}

// ResultDocument is the terminal output of a conversion.
type ResultDocument struct {
	SessionID          string        `json:"session_id"`
	JobID              string        `json:"job_id,omitempty"`
	SlideCount         int           `json:"slide_count"`
	OverallStatus      OverallStatus `json:"overall_status"`
	ProcessingDuration float64       `json:"processing_time"`
	Slides             []Slide       `json:"slides"`
	CreatedAt          time.Time     `json:"created_at"`
}
