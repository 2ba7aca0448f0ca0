package slides

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx"
)

const (
	deckW = 9144000
	deckH = 5143500
)

func body(paras ...string) *pptx.TextBody {
	b := &pptx.TextBody{}
	for _, p := range paras {
		b.Paragraphs = append(b.Paragraphs, pptx.Paragraph{Runs: []pptx.Run{{Text: p}}})
	}
	return b
}

func textElement(name string, ph *pptx.Placeholder, r pptx.Rect, paras ...string) pptx.Element {
	return pptx.Element{Name: name, Kind: pptx.ElementText, Frame: r, HasFrame: true, Placeholder: ph, Text: body(paras...)}
}

func deckWith(els ...pptx.Element) (*pptx.Presentation, *pptx.Slide) {
	s := &pptx.Slide{Number: 1, Elements: els}
	return &pptx.Presentation{SlideWidth: deckW, SlideHeight: deckH, Slides: []*pptx.Slide{s}}, s
}

func byText(t *testing.T, shapes []domain.Shape, text string) domain.Shape {
	t.Helper()
	for _, s := range shapes {
		if s.PlainText() == text {
			return s
		}
	}
	t.Fatalf("no shape with text %q", text)
	return domain.Shape{}
}

func TestExtract_TitlesAndPriorities(t *testing.T) {
	long := "This paragraph has more than twenty words so that it is treated as long body copy which deserves a higher translation priority than usual."
	deck, slide := deckWith(
		textElement("Title", &pptx.Placeholder{Type: "ctrTitle"}, pptx.Rect{X: 100, Y: 4000000, Width: 5000, Height: 5000}, "Quarterly Review"),
		textElement("Sub", &pptx.Placeholder{Type: "subTitle"}, pptx.Rect{X: 100, Y: 3000000, Width: 5000, Height: 5000}, "Fiscal year 2024"),
		textElement("Banner", nil, pptx.Rect{X: 0, Y: 100000, Width: deckW, Height: 600000}, "Big heading near top"),
		textElement("Small top", nil, pptx.Rect{X: 0, Y: 1000000, Width: 100, Height: 100000}, "Tiny label"),
		textElement("Body", nil, pptx.Rect{X: 0, Y: 2000000, Width: 100, Height: 100}, long),
		textElement("Medium", nil, pptx.Rect{X: 0, Y: 2500000, Width: 100, Height: 100}, "one two three four five six"),
	)

	shapes, err := NewExtractor(ExtractorConfig{}).Extract(deck, slide)
	require.NoError(t, err)
	require.Len(t, shapes, 6)

	title := byText(t, shapes, "Quarterly Review")
	assert.True(t, title.Text.IsTitle)
	assert.Equal(t, "ctrTitle", title.Text.PlaceholderType)
	assert.Equal(t, PriorityTitle, title.Text.TranslationPriority)

	sub := byText(t, shapes, "Fiscal year 2024")
	assert.True(t, sub.Text.IsSubtitle)
	assert.False(t, sub.Text.IsTitle)
	assert.Equal(t, PrioritySubtitle, sub.Text.TranslationPriority)

	banner := byText(t, shapes, "Big heading near top")
	assert.True(t, banner.Text.IsTitle, "large text in the top band is a title")

	small := byText(t, shapes, "Tiny label")
	assert.False(t, small.Text.IsTitle, "too short to be a title")
	assert.Equal(t, PriorityShort, small.Text.TranslationPriority)

	assert.Equal(t, PriorityLong, byText(t, shapes, long).Text.TranslationPriority)
	assert.Equal(t, PriorityDefault, byText(t, shapes, "one two three four five six").Text.TranslationPriority)

	for _, s := range shapes {
		require.NoError(t, s.Validate())
		assert.Equal(t, domain.UnitEMU, s.BoundingBox.Unit)
		assert.Equal(t, domain.SourceExtracted, s.Validation.SourceOfTruth)
		assert.NotEmpty(t, s.ID)
	}
}

func TestExtract_ReadingOrder(t *testing.T) {
	deck, slide := deckWith(
		textElement("c", nil, pptx.Rect{X: 0, Y: 300}, "third"),
		textElement("b", nil, pptx.Rect{X: 500, Y: 100}, "second"),
		textElement("a", nil, pptx.Rect{X: 10, Y: 100}, "first"),
	)

	shapes, err := NewExtractor(ExtractorConfig{}).Extract(deck, slide)
	require.NoError(t, err)
	require.Len(t, shapes, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, shapes[i].PlainText())
		assert.Equal(t, i+1, shapes[i].ReadingOrder)
	}
}

func TestExtract_Style(t *testing.T) {
	bold, italic := true, true
	el := textElement("styled", nil, pptx.Rect{Y: 4000000})
	el.Text = &pptx.TextBody{
		Anchor: "ctr",
		Paragraphs: []pptx.Paragraph{{
			Align:       "r",
			LineSpacing: 1.5,
			Runs:        []pptx.Run{{Text: "Styled", SizePt: 28, Bold: &bold, Italic: &italic, Typeface: "Calibri", Color: "#FF0000"}},
		}},
	}
	plain := textElement("plain", nil, pptx.Rect{Y: 4500000}, "Plain")

	deck, slide := deckWith(el, plain)
	shapes, err := NewExtractor(ExtractorConfig{}).Extract(deck, slide)
	require.NoError(t, err)

	assert.Equal(t, domain.TextStyle{
		FontFamily:     "Calibri",
		FontSize:       28,
		FontWeight:     "bold",
		FontStyle:      "italic",
		Color:          "#FF0000",
		Alignment:      "RIGHT",
		VerticalAnchor: "MIDDLE",
		LineSpacing:    1.5,
	}, byText(t, shapes, "Styled").Text.Style)
	assert.Equal(t, domain.DefaultTextStyle(), byText(t, shapes, "Plain").Text.Style)
}

func TestExtract_TablePictureChart(t *testing.T) {
	table := pptx.Element{Kind: pptx.ElementTable, Frame: pptx.Rect{Y: 2000000}, HasFrame: true, Table: &pptx.Table{
		Rows: []pptx.TableRow{
			{Cells: []pptx.TableCell{
				{Row: 0, Column: 0, Frame: pptx.Rect{X: 0, Y: 2000000, Width: 100, Height: 50}, Text: body("Region")},
				{Row: 0, Column: 1, Frame: pptx.Rect{X: 100, Y: 2000000, Width: 100, Height: 50}, Text: body("")},
			}},
			{Cells: []pptx.TableCell{
				{Row: 1, Column: 0, Frame: pptx.Rect{X: 0, Y: 2000050, Width: 100, Height: 50}, Text: body("EMEA")},
			}},
		},
	}}
	picture := pptx.Element{Name: "Logo", Description: "Company logo", Kind: pptx.ElementPicture,
		Frame: pptx.Rect{X: 10, Y: 10, Width: 20, Height: 20}, HasFrame: true,
		Image: &pptx.Image{PartName: "ppt/media/image1.png", ContentType: "image/png"}}
	chart := pptx.Element{Kind: pptx.ElementChart, Frame: pptx.Rect{Y: 3000000}, HasFrame: true, Text: body("Sales by region")}
	emptyChart := pptx.Element{Kind: pptx.ElementChart, HasFrame: true}
	unplaced := pptx.Element{Kind: pptx.ElementText, Text: body("no frame")}
	blank := textElement("blank", nil, pptx.Rect{}, "   ")

	deck, slide := deckWith(table, picture, chart, emptyChart, unplaced, blank)
	shapes, err := NewExtractor(ExtractorConfig{}).Extract(deck, slide)
	require.NoError(t, err)
	require.Len(t, shapes, 4)

	img := shapes[0]
	assert.Equal(t, domain.ShapeKindImage, img.Kind)
	assert.Equal(t, &domain.ImageContent{Name: "Logo", ContentType: "image/png", AltText: "Company logo"}, img.Image)

	region := byText(t, shapes, "Region")
	assert.Equal(t, domain.ShapeKindTableCell, region.Kind)
	assert.Equal(t, 0, *region.Text.Row)
	assert.Equal(t, 0, *region.Text.Column)
	emea := byText(t, shapes, "EMEA")
	assert.Equal(t, 1, *emea.Text.Row)

	assert.Equal(t, domain.ShapeKindChartText, byText(t, shapes, "Sales by region").Kind)
}

func TestExtract_SegmentsUseConfiguredLimit(t *testing.T) {
	deck, slide := deckWith(textElement("b", nil, pptx.Rect{Y: 4000000},
		"First sentence. Second sentence. Third sentence."))

	shapes, err := NewExtractor(ExtractorConfig{SegmentMaxLength: 20}).Extract(deck, slide)
	require.NoError(t, err)
	assert.Len(t, shapes[0].Text.Segments, 3)
	assert.Equal(t, 6, shapes[0].Text.WordCount)
}

func TestExtract_BrokenSlide(t *testing.T) {
	deck, slide := deckWith()
	slide.Err = errors.New("XML syntax error")

	_, err := NewExtractor(ExtractorConfig{}).Extract(deck, slide)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction))
}

func TestExtract_MultiParagraphText(t *testing.T) {
	deck, slide := deckWith(textElement("list", nil, pptx.Rect{Y: 4000000}, "Point one", "Point two"))
	shapes, err := NewExtractor(ExtractorConfig{}).Extract(deck, slide)
	require.NoError(t, err)
	assert.Equal(t, "Point one\nPoint two", shapes[0].PlainText())
	require.Len(t, shapes[0].Text.Segments, 1)
	assert.Equal(t, "Point one Point two", shapes[0].Text.Segments[0].Text)
}
