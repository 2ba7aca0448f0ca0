// Package pptx reads the parts of a PresentationML package needed for shape
// and text extraction. Coordinates are in EMU.
package pptx

import "strings"

// ElementKind is the kind of a shape tree element.
type ElementKind string

const (
	ElementText    ElementKind = "text"
	ElementPicture ElementKind = "picture"
	ElementTable   ElementKind = "table"
	ElementChart   ElementKind = "chart"
)

// Presentation is a parsed deck.
type Presentation struct {
	SlideWidth  int64
	SlideHeight int64
	Slides      []*Slide
}

// SlideCount returns the number of slides in presentation order.
func (p *Presentation) SlideCount() int {
	return len(p.Slides)
}

// Slide is one slide. Err is set when the slide part could not be parsed;
// the remaining slides are still usable.
type Slide struct {
	Number   int
	PartName string
	Hidden   bool
	Elements []Element
	Err      error
}

// Rect is a position and size in EMU.
type Rect struct {
	X, Y, Width, Height int64
}

// Placeholder identifies a layout placeholder the element is bound to.
type Placeholder struct {
	Type  string
	Index *int
}

// IsTitle reports whether the placeholder is a title.
func (p *Placeholder) IsTitle() bool {
	return p != nil && (p.Type == "title" || p.Type == "ctrTitle")
}

// IsSubtitle reports whether the placeholder is a subtitle.
func (p *Placeholder) IsSubtitle() bool {
	return p != nil && p.Type == "subTitle"
}

// Element is a flattened shape tree leaf. Group transforms are already applied.
type Element struct {
	ID          int
	Name        string
	Description string
	Kind        ElementKind
	Frame       Rect
	HasFrame    bool
	Placeholder *Placeholder

	// Text is set for text shapes and chart titles.
	Text *TextBody
	// Table is set for tables.
	Table *Table
	// Image is set for pictures.
	Image *Image
}

// TextBody is the content of a text frame.
type TextBody struct {
	Anchor     string
	Paragraphs []Paragraph
}

// Text joins paragraphs with newlines.
func (b *TextBody) Text() string {
	if b == nil {
		return ""
	}
	parts := make([]string, len(b.Paragraphs))
	for i, p := range b.Paragraphs {
		parts[i] = p.Text()
	}
	return strings.Join(parts, "\n")
}

// FirstRun returns the first run of the first paragraph that has one.
func (b *TextBody) FirstRun() (Paragraph, Run, bool) {
	if b == nil {
		return Paragraph{}, Run{}, false
	}
	for _, p := range b.Paragraphs {
		for _, r := range p.Runs {
			if r.Text != "\n" {
				return p, r, true
			}
		}
	}
	if len(b.Paragraphs) > 0 {
		return b.Paragraphs[0], Run{}, false
	}
	return Paragraph{}, Run{}, false
}

// Paragraph is one a:p element.
type Paragraph struct {
	Align string
	// LineSpacing is a multiple of single spacing, 0 when unset.
	LineSpacing float64
	Runs        []Run
}

// Text concatenates the paragraph runs.
func (p Paragraph) Text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// Run is a text run with its character properties. Zero values mean inherited.
type Run struct {
	Text     string
	SizePt   float64
	Bold     *bool
	Italic   *bool
	Typeface string
	Color    string
}

// Table is a grid of cells.
type Table struct {
	Rows []TableRow
}

// TableRow is one table row.
type TableRow struct {
	Cells []TableCell
}

// TableCell is a cell with its frame on the slide. Merged continuation cells
// are not included.
type TableCell struct {
	Row, Column int
	Frame       Rect
	Text        *TextBody
}

// Image describes a picture.
type Image struct {
	PartName    string
	ContentType string
}
