package slides

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SVGDocument is the part of a rendered slide needed for coordinate validation.
type SVGDocument struct {
	// Width and Height are the root attributes with units stripped. Zero when
	// absent or relative.
	Width   float64
	Height  float64
	ViewBox *ViewBox
	Texts   []SVGText
}

// ViewBox is the root viewBox attribute.
type ViewBox struct {
	MinX, MinY, Width, Height float64
}

// SVGText is a text run with its anchor point in user space.
type SVGText struct {
	Text string
	X, Y float64
}

// ViewportSize prefers the viewBox dimensions over width and height.
func (d *SVGDocument) ViewportSize() (w, h float64) {
	if d.ViewBox != nil && d.ViewBox.Width > 0 && d.ViewBox.Height > 0 {
		return d.ViewBox.Width, d.ViewBox.Height
	}
	return d.Width, d.Height
}

// Offset is the viewBox origin, zero without a viewBox.
func (d *SVGDocument) Offset() (x, y float64) {
	if d.ViewBox == nil {
		return 0, 0
	}
	return d.ViewBox.MinX, d.ViewBox.MinY
}

// ReadSVGFile parses the SVG at path.
func ReadSVGFile(path string) (*SVGDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSVG(f)
}

// affine is the matrix [a c e; b d f; 0 0 1].
type affine struct{ a, b, c, d, e, f float64 }

var identityAffine = affine{a: 1, d: 1}

func (m affine) mul(n affine) affine {
	return affine{
		a: m.a*n.a + m.c*n.b,
		b: m.b*n.a + m.d*n.b,
		c: m.a*n.c + m.c*n.d,
		d: m.b*n.c + m.d*n.d,
		e: m.a*n.e + m.c*n.f + m.e,
		f: m.b*n.e + m.d*n.f + m.f,
	}
}

func (m affine) apply(x, y float64) (float64, float64) {
	return m.a*x + m.c*y + m.e, m.b*x + m.d*y + m.f
}

type openText struct {
	sb       strings.Builder
	x, y     float64
	hasPos   bool
	tm       affine
	spans    []SVGText
	curSpan  *strings.Builder
	spanX    float64
	spanY    float64
	spanPos  bool
	spanTM   affine
	spanSeen int
}

// ParseSVG extracts root dimensions and text positions. Nested group
// transforms are applied so every position is in root user space.
func ParseSVG(r io.Reader) (*SVGDocument, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	doc := &SVGDocument{}
	stack := []affine{identityAffine}
	var text *openText
	rootSeen := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse svg: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			attrs := attrMap(t.Attr)
			tm := stack[len(stack)-1]
			if tr, ok := attrs["transform"]; ok {
				tm = tm.mul(parseTransform(tr))
			}
			stack = append(stack, tm)

			switch t.Name.Local {
			case "svg":
				if !rootSeen {
					rootSeen = true
					doc.Width = parseLength(attrs["width"])
					doc.Height = parseLength(attrs["height"])
					doc.ViewBox = parseViewBox(attrs["viewBox"])
				}
			case "text":
				text = &openText{tm: tm}
				text.x, text.y, text.hasPos = position(attrs)
			case "tspan":
				if text == nil {
					continue
				}
				text.curSpan = &strings.Builder{}
				text.spanTM = tm
				text.spanX, text.spanY, text.spanPos = position(attrs)
				if !text.hasPos && text.spanPos {
					text.x, text.y, text.hasPos = text.spanX, text.spanY, true
					text.tm = tm
				}
			}

		case xml.CharData:
			if text == nil {
				continue
			}
			text.sb.Write(t)
			if text.curSpan != nil {
				text.curSpan.Write(t)
			}

		case xml.EndElement:
			stack = stack[:len(stack)-1]
			switch t.Name.Local {
			case "tspan":
				if text == nil || text.curSpan == nil {
					continue
				}
				text.spanSeen++
				if s := strings.TrimSpace(text.curSpan.String()); s != "" && text.spanPos {
					x, y := text.spanTM.apply(text.spanX, text.spanY)
					text.spans = append(text.spans, SVGText{Text: s, X: x, Y: y})
				}
				text.curSpan = nil
			case "text":
				if text == nil {
					continue
				}
				if s := strings.TrimSpace(text.sb.String()); s != "" {
					x, y := text.tm.apply(text.x, text.y)
					doc.Texts = append(doc.Texts, SVGText{Text: s, X: x, Y: y})
				}
				if text.spanSeen > 1 {
					doc.Texts = append(doc.Texts, text.spans...)
				}
				text = nil
			}
		}
	}

	if !rootSeen {
		return nil, errors.New("parse svg: no svg root element")
	}
	return doc, nil
}

func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

// position reads x and y. Either may be a list; the first value wins.
func position(attrs map[string]string) (x, y float64, ok bool) {
	xs, xok := attrs["x"]
	ys, yok := attrs["y"]
	if !xok && !yok {
		return 0, 0, false
	}
	return firstNumber(xs), firstNumber(ys), true
}

func firstNumber(s string) float64 {
	nums := parseNumbers(s)
	if len(nums) == 0 {
		return 0
	}
	return nums[0]
}

func parseNumbers(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// parseLength strips absolute units. Percentages are ignored.
func parseLength(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, "%") {
		return 0
	}
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		end--
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

func parseViewBox(s string) *ViewBox {
	nums := parseNumbers(s)
	if len(nums) != 4 {
		return nil
	}
	return &ViewBox{MinX: nums[0], MinY: nums[1], Width: nums[2], Height: nums[3]}
}

// parseTransform understands matrix, translate and scale. Unknown functions
// are treated as identity.
func parseTransform(s string) affine {
	m := identityAffine
	for {
		open := strings.IndexByte(s, '(')
		if open < 0 {
			return m
		}
		end := strings.IndexByte(s[open:], ')')
		if end < 0 {
			return m
		}
		name := strings.TrimSpace(strings.TrimLeft(s[:open], ", "))
		args := parseNumbers(s[open+1 : open+end])
		s = s[open+end+1:]

		switch name {
		case "matrix":
			if len(args) == 6 {
				m = m.mul(affine{a: args[0], b: args[1], c: args[2], d: args[3], e: args[4], f: args[5]})
			}
		case "translate":
			switch len(args) {
			case 1:
				m = m.mul(affine{a: 1, d: 1, e: args[0]})
			case 2:
				m = m.mul(affine{a: 1, d: 1, e: args[0], f: args[1]})
			}
		case "scale":
			switch len(args) {
			case 1:
				m = m.mul(affine{a: args[0], d: args[0]})
			case 2:
				m = m.mul(affine{a: args[0], d: args[1]})
			}
		}
	}
}
