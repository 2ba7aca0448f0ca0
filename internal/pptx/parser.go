package pptx

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrInvalidPackage is returned when the file is not a readable presentation.
var ErrInvalidPackage = errors.New("invalid presentation package")

const (
	relOfficeDocument = "/officeDocument"
	relSlideLayout    = "/slideLayout"
	relSlideMaster    = "/slideMaster"

	defaultPresentationPart = "ppt/presentation.xml"
)

// Open parses the presentation at path.
func Open(filePath string) (*Presentation, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	defer zr.Close()
	return parse(&zr.Reader)
}

// Parse reads a presentation from r.
func Parse(r io.ReaderAt, size int64) (*Presentation, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	return parse(zr)
}

type relationship struct {
	Type     string
	Target   string
	External bool
}

type relationships map[string]relationship

func (r relationships) firstOfType(suffix string) (relationship, bool) {
	for _, rel := range r {
		if strings.HasSuffix(rel.Type, suffix) && !rel.External {
			return rel, true
		}
	}
	return relationship{}, false
}

type placeholderFrame struct {
	ph    Placeholder
	frame Rect
}

type packageReader struct {
	files        map[string]*zip.File
	contentTypes contentTypes
	// frames caches placeholder positions per layout or master part.
	frames map[string][]placeholderFrame
}

func parse(zr *zip.Reader) (*Presentation, error) {
	p := &packageReader{
		files:  make(map[string]*zip.File, len(zr.File)),
		frames: make(map[string][]placeholderFrame),
	}
	for _, f := range zr.File {
		p.files[strings.TrimPrefix(f.Name, "/")] = f
	}
	p.contentTypes = p.readContentTypes()

	presPart := defaultPresentationPart
	if rootRels, err := p.relationships(""); err == nil {
		if rel, ok := rootRels.firstOfType(relOfficeDocument); ok {
			presPart = rel.Target
		}
	}

	var pres xmlPresentation
	if err := p.readXML(presPart, &pres); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	presRels, err := p.relationships(presPart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}

	out := &Presentation{
		SlideWidth:  pres.SlideSize.CX,
		SlideHeight: pres.SlideSize.CY,
		Slides:      make([]*Slide, 0, len(pres.SlideIDs)),
	}
	for i, id := range pres.SlideIDs {
		slide := &Slide{Number: i + 1}
		rel, ok := presRels[id.RID]
		if !ok {
			slide.Err = fmt.Errorf("slide %d: relationship %q not found", slide.Number, id.RID)
		} else {
			slide.PartName = rel.Target
			p.parseSlide(slide)
		}
		out.Slides = append(out.Slides, slide)
	}
	return out, nil
}

func (p *packageReader) parseSlide(s *Slide) {
	var xs xmlSlide
	if err := p.readXML(s.PartName, &xs); err != nil {
		s.Err = fmt.Errorf("slide %d: %w", s.Number, err)
		return
	}
	s.Hidden = xs.Show != nil && !*xs.Show

	rels, err := p.relationships(s.PartName)
	if err != nil {
		s.Err = fmt.Errorf("slide %d: %w", s.Number, err)
		return
	}

	w := &walker{pkg: p, part: s.PartName, rels: rels}
	if layout, ok := rels.firstOfType(relSlideLayout); ok {
		w.layout = p.placeholderFrames(layout.Target)
		if layoutRels, err := p.relationships(layout.Target); err == nil {
			if master, ok := layoutRels.firstOfType(relSlideMaster); ok {
				w.master = p.placeholderFrames(master.Target)
			}
		}
	}

	w.walk(&xs.Tree, identity)
	s.Elements = w.elements
}

// placeholderFrames collects the positioned placeholders of a layout or master.
func (p *packageReader) placeholderFrames(part string) []placeholderFrame {
	if frames, ok := p.frames[part]; ok {
		return frames
	}

	var xs xmlSlide
	var frames []placeholderFrame
	if err := p.readXML(part, &xs); err == nil {
		for _, item := range xs.Tree.Items {
			sp := item.Shape
			if sp == nil || sp.Ph == nil {
				continue
			}
			if r, ok := rectOf(sp.Xfrm); ok {
				frames = append(frames, placeholderFrame{ph: placeholderOf(sp.Ph), frame: r})
			}
		}
	}
	p.frames[part] = frames
	return frames
}

func (p *packageReader) open(part string) (io.ReadCloser, error) {
	f, ok := p.files[part]
	if !ok {
		return nil, fmt.Errorf("part %s not found", part)
	}
	return f.Open()
}

func (p *packageReader) readXML(part string, v interface{}) error {
	rc, err := p.open(part)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", part, err)
	}
	return nil
}

// relationships reads the .rels part belonging to part. A part without
// relationships yields an empty map.
func (p *packageReader) relationships(part string) (relationships, error) {
	dir, file := path.Split(part)
	relsPart := path.Join(dir, "_rels", file+".rels")

	out := make(relationships)
	if _, ok := p.files[relsPart]; !ok {
		return out, nil
	}

	var xr xmlRelationships
	if err := p.readXML(relsPart, &xr); err != nil {
		return nil, err
	}
	for _, r := range xr.Items {
		rel := relationship{Type: r.Type, Target: r.Target, External: strings.EqualFold(r.TargetMode, "External")}
		if !rel.External {
			rel.Target = resolvePart(dir, r.Target)
		}
		out[r.ID] = rel
	}
	return out, nil
}

func resolvePart(baseDir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return strings.TrimPrefix(path.Clean(path.Join("/", baseDir, target)), "/")
}

type contentTypes struct {
	defaults  map[string]string
	overrides map[string]string
}

func (p *packageReader) readContentTypes() contentTypes {
	ct := contentTypes{defaults: map[string]string{}, overrides: map[string]string{}}

	var x struct {
		Defaults []struct {
			Extension   string `xml:"Extension,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Default"`
		Overrides []struct {
			PartName    string `xml:"PartName,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Override"`
	}
	if err := p.readXML("[Content_Types].xml", &x); err != nil {
		return ct
	}
	for _, d := range x.Defaults {
		ct.defaults[strings.ToLower(d.Extension)] = d.ContentType
	}
	for _, o := range x.Overrides {
		ct.overrides[strings.TrimPrefix(o.PartName, "/")] = o.ContentType
	}
	return ct
}

func (c contentTypes) lookup(part string) string {
	if v, ok := c.overrides[part]; ok {
		return v
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(part), "."))
	if v, ok := c.defaults[ext]; ok {
		return v
	}
	switch ext {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "emf":
		return "image/x-emf"
	case "wmf":
		return "image/x-wmf"
	default:
		return "application/octet-stream"
	}
}

func placeholderOf(x *xmlPlaceholder) Placeholder {
	ph := Placeholder{Type: x.Type, Index: x.Idx}
	if ph.Type == "" {
		ph.Type = "obj"
	}
	return ph
}

func rectOf(x *xmlXfrm) (Rect, bool) {
	if x == nil || x.Off == nil || x.Ext == nil {
		return Rect{}, false
	}
	return Rect{X: x.Off.X, Y: x.Off.Y, Width: x.Ext.CX, Height: x.Ext.CY}, true
}
