// Package pptxtest builds small presentation packages for tests.
package pptxtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

// Standard 16:9 slide size in EMU.
const (
	SlideWidth  int64 = 9144000
	SlideHeight int64 = 5143500
)

// Shape is a text shape. Placeholder is a ph type such as "title"; an empty
// frame with a placeholder inherits its position from the layout.
type Shape struct {
	ID          int
	Name        string
	Placeholder string
	X, Y, W, H  int64
	NoFrame     bool
	Paragraphs  []string
	Size        int
	Bold        bool
	Color       string
	Font        string
	Align       string
	Anchor      string
}

// Slide holds text shapes plus raw spTree children for anything else.
type Slide struct {
	Shapes []Shape
	Raw    string
	// Rels are extra relationship elements for the slide part.
	Rels string
}

// Deck describes a presentation. Parts are extra package parts keyed by name.
type Deck struct {
	Width, Height int64
	Slides        []Slide
	Parts         map[string][]byte
}

// Write stores the deck as dir/name and returns its path.
func Write(t testing.TB, dir, name string, d Deck) string {
	t.Helper()
	data, err := Bytes(d)
	if err != nil {
		t.Fatalf("build pptx: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write pptx: %v", err)
	}
	return path
}

// Simple returns a deck with one titled slide per title.
func Simple(titles ...string) Deck {
	d := Deck{}
	for i, title := range titles {
		d.Slides = append(d.Slides, Slide{Shapes: []Shape{
			{ID: 2, Name: "Title", Placeholder: "title", X: 457200, Y: 274638, W: 8229600, H: 857250, Paragraphs: []string{title}},
			{ID: 3, Name: "Body", X: 457200, Y: 1600200, W: 8229600, H: 2000000,
				Paragraphs: []string{fmt.Sprintf("Body text for slide %d.", i+1)}},
		}})
	}
	return d
}

// Bytes renders the deck as a zip package.
func Bytes(d Deck) ([]byte, error) {
	if d.Width == 0 {
		d.Width = SlideWidth
	}
	if d.Height == 0 {
		d.Height = SlideHeight
	}

	parts := map[string]string{
		"[Content_Types].xml":                          contentTypes(len(d.Slides)),
		"_rels/.rels":                                  rootRels,
		"ppt/presentation.xml":                         presentation(d),
		"ppt/_rels/presentation.xml.rels":              presentationRels(len(d.Slides)),
		"ppt/slideLayouts/slideLayout1.xml":            layout,
		"ppt/slideLayouts/_rels/slideLayout1.xml.rels": layoutRels,
		"ppt/slideMasters/slideMaster1.xml":            master,
		"ppt/slideMasters/_rels/slideMaster1.xml.rels": masterRels,
	}
	for i, s := range d.Slides {
		n := i + 1
		parts[fmt.Sprintf("ppt/slides/slide%d.xml", n)] = slideXML(s)
		parts[fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", n)] = slideRels(s)
	}

	all := make(map[string][]byte, len(parts)+len(d.Parts))
	for name, body := range parts {
		all[name] = []byte(body)
	}
	for name, body := range d.Parts {
		all[name] = body
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		if err := writePart(zw, name, all[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// partTime is stamped on every entry so equal decks give equal bytes.
var partTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func writePart(zw *zip.Writer, name string, body []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: partTime})
	if err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

const nsDecl = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`

const rootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="ppt/presentation.xml"/>
</Relationships>`

const layout = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldLayout ` + nsDecl + `><p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>
<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title 1"/><p:cNvSpPr/><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="457200" y="205978"/><a:ext cx="8229600" cy="857250"/></a:xfrm></p:spPr></p:sp>
<p:sp><p:nvSpPr><p:cNvPr id="3" name="Subtitle 2"/><p:cNvSpPr/><p:nvPr><p:ph type="subTitle" idx="1"/></p:nvPr></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="1371600" y="2914650"/><a:ext cx="6400800" cy="1314450"/></a:xfrm></p:spPr></p:sp>
</p:spTree></p:cSld></p:sldLayout>`

const layoutRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="../slideMasters/slideMaster1.xml"/>
</Relationships>`

const master = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldMaster ` + nsDecl + `><p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>
<p:sp><p:nvSpPr><p:cNvPr id="2" name="Title Placeholder 1"/><p:cNvSpPr/><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="457200" y="205978"/><a:ext cx="8229600" cy="857250"/></a:xfrm></p:spPr></p:sp>
<p:sp><p:nvSpPr><p:cNvPr id="3" name="Text Placeholder 2"/><p:cNvSpPr/><p:nvPr><p:ph type="body" idx="1"/></p:nvPr></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="457200" y="1200150"/><a:ext cx="8229600" cy="3394472"/></a:xfrm></p:spPr></p:sp>
</p:spTree></p:cSld></p:sldMaster>`

const masterRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
</Relationships>`

func contentTypes(slides int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Default Extension="png" ContentType="image/png"/>
<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>
`)
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&sb, `<Override PartName="/ppt/slides/slide%d.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.slide+xml"/>
`, i)
	}
	sb.WriteString(`</Types>`)
	return sb.String()
}

func presentation(d Deck) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:presentation ` + nsDecl + `><p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rIdM"/></p:sldMasterIdLst><p:sldIdLst>`)
	for i := range d.Slides {
		fmt.Fprintf(&sb, `<p:sldId id="%d" r:id="rId%d"/>`, 256+i, i+1)
	}
	fmt.Fprintf(&sb, `</p:sldIdLst><p:sldSz cx="%d" cy="%d"/><p:notesSz cx="6858000" cy="9144000"/></p:presentation>`, d.Width, d.Height)
	return sb.String()
}

func presentationRels(slides int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rIdM" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideMaster" Target="slideMasters/slideMaster1.xml"/>
`)
	for i := 1; i <= slides; i++ {
		fmt.Fprintf(&sb, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide" Target="slides/slide%d.xml"/>
`, i, i)
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func slideRels(s Slide) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rIdL" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/slideLayout" Target="../slideLayouts/slideLayout1.xml"/>
` + s.Rels + `</Relationships>`
}

func slideXML(s Slide) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld ` + nsDecl + `><p:cSld><p:spTree>
<p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>
`)
	for _, sh := range s.Shapes {
		sb.WriteString(ShapeXML(sh))
	}
	sb.WriteString(s.Raw)
	sb.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return sb.String()
}

// ShapeXML renders a single p:sp element.
func ShapeXML(sh Shape) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<p:sp><p:nvSpPr><p:cNvPr id="%d" name="%s"/><p:cNvSpPr/><p:nvPr>`, sh.ID, html.EscapeString(sh.Name))
	if sh.Placeholder != "" {
		fmt.Fprintf(&sb, `<p:ph type="%s"/>`, sh.Placeholder)
	}
	sb.WriteString(`</p:nvPr></p:nvSpPr><p:spPr>`)
	if !sh.NoFrame {
		fmt.Fprintf(&sb, `<a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm>`, sh.X, sh.Y, sh.W, sh.H)
	}
	sb.WriteString(`</p:spPr><p:txBody>`)
	if sh.Anchor != "" {
		fmt.Fprintf(&sb, `<a:bodyPr anchor="%s"/>`, sh.Anchor)
	} else {
		sb.WriteString(`<a:bodyPr/>`)
	}
	for _, para := range sh.Paragraphs {
		sb.WriteString(`<a:p>`)
		if sh.Align != "" {
			fmt.Fprintf(&sb, `<a:pPr algn="%s"/>`, sh.Align)
		}
		sb.WriteString(`<a:r>`)
		sb.WriteString(runProps(sh))
		fmt.Fprintf(&sb, `<a:t>%s</a:t></a:r></a:p>`, html.EscapeString(para))
	}
	sb.WriteString(`</p:txBody></p:sp>
`)
	return sb.String()
}

func runProps(sh Shape) string {
	if sh.Size == 0 && !sh.Bold && sh.Color == "" && sh.Font == "" {
		return `<a:rPr lang="en-US"/>`
	}
	var sb strings.Builder
	sb.WriteString(`<a:rPr lang="en-US"`)
	if sh.Size > 0 {
		fmt.Fprintf(&sb, ` sz="%d"`, sh.Size)
	}
	if sh.Bold {
		sb.WriteString(` b="1"`)
	}
	sb.WriteString(`>`)
	if sh.Color != "" {
		fmt.Fprintf(&sb, `<a:solidFill><a:srgbClr val="%s"/></a:solidFill>`, strings.TrimPrefix(sh.Color, "#"))
	}
	if sh.Font != "" {
		fmt.Fprintf(&sb, `<a:latin typeface="%s"/>`, sh.Font)
	}
	sb.WriteString(`</a:rPr>`)
	return sb.String()
}
