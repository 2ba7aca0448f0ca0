package pptx

import (
	"strings"
)

type transform func(Rect) Rect

func identity(r Rect) Rect { return r }

// groupTransform maps a group's child coordinate space onto its parent.
func groupTransform(parent transform, x *xmlXfrm) transform {
	if x == nil || x.Off == nil || x.Ext == nil || x.ChOff == nil || x.ChExt == nil {
		return parent
	}
	sx, sy := 1.0, 1.0
	if x.ChExt.CX != 0 {
		sx = float64(x.Ext.CX) / float64(x.ChExt.CX)
	}
	if x.ChExt.CY != 0 {
		sy = float64(x.Ext.CY) / float64(x.ChExt.CY)
	}
	off, chOff := *x.Off, *x.ChOff

	return func(r Rect) Rect {
		return parent(Rect{
			X:      off.X + int64(float64(r.X-chOff.X)*sx),
			Y:      off.Y + int64(float64(r.Y-chOff.Y)*sy),
			Width:  int64(float64(r.Width) * sx),
			Height: int64(float64(r.Height) * sy),
		})
	}
}

type walker struct {
	pkg    *packageReader
	part   string
	rels   relationships
	layout []placeholderFrame
	master []placeholderFrame

	elements []Element
}

func (w *walker) walk(tree *xmlShapeTree, tf transform) {
	for _, item := range tree.Items {
		switch {
		case item.Shape != nil:
			w.addShape(item.Shape, tf)
		case item.Picture != nil:
			w.addPicture(item.Picture, tf)
		case item.GraphicFrame != nil:
			w.addGraphicFrame(item.GraphicFrame, tf)
		case item.Group != nil:
			w.walk(item.Group, groupTransform(tf, item.Group.Xfrm))
		}
	}
}

func (w *walker) base(nv xmlNvPr, ph *xmlPlaceholder, x *xmlXfrm, kind ElementKind, tf transform) Element {
	el := Element{
		ID:          nv.ID,
		Name:        nv.Name,
		Description: nv.Descr,
		Kind:        kind,
	}
	if ph != nil {
		p := placeholderOf(ph)
		el.Placeholder = &p
	}

	if r, ok := rectOf(x); ok {
		el.Frame, el.HasFrame = tf(r), true
	} else if el.Placeholder != nil {
		// Layout and master frames are already in slide space.
		el.Frame, el.HasFrame = w.inheritedFrame(*el.Placeholder)
	}
	return el
}

func (w *walker) addShape(sp *xmlSp, tf transform) {
	el := w.base(sp.NvPr, sp.Ph, sp.Xfrm, ElementText, tf)
	el.Text = textBody(sp.TxBody)
	w.elements = append(w.elements, el)
}

func (w *walker) addPicture(pic *xmlPic, tf transform) {
	el := w.base(pic.NvPr, pic.Ph, pic.Xfrm, ElementPicture, tf)
	img := &Image{ContentType: "application/octet-stream"}
	if rel, ok := w.rels[pic.Blip.Embed]; ok && !rel.External {
		img.PartName = rel.Target
		img.ContentType = w.pkg.contentTypes.lookup(rel.Target)
	}
	el.Image = img
	w.elements = append(w.elements, el)
}

func (w *walker) addGraphicFrame(gf *xmlGraphicFrame, tf transform) {
	switch {
	case gf.Data.Table != nil:
		el := w.base(gf.NvPr, gf.Ph, gf.Xfrm, ElementTable, tf)
		el.Table = buildTable(gf.Data.Table, el.Frame)
		w.elements = append(w.elements, el)
	case gf.Data.Chart != nil:
		el := w.base(gf.NvPr, gf.Ph, gf.Xfrm, ElementChart, tf)
		if rel, ok := w.rels[gf.Data.Chart.RID]; ok && !rel.External {
			var cs xmlChartSpace
			if err := w.pkg.readXML(rel.Target, &cs); err == nil && cs.Title != nil {
				el.Text = textBody(cs.Title.Rich)
			}
		}
		w.elements = append(w.elements, el)
	}
}

func (w *walker) inheritedFrame(ph Placeholder) (Rect, bool) {
	for _, f := range w.layout {
		if matchesLayout(ph, f.ph) {
			return f.frame, true
		}
	}
	want := masterType(ph.Type)
	for _, f := range w.master {
		if masterType(f.ph.Type) == want {
			return f.frame, true
		}
	}
	return Rect{}, false
}

func matchesLayout(slide, layout Placeholder) bool {
	if slide.Index != nil && layout.Index != nil {
		return *slide.Index == *layout.Index
	}
	return masterType(slide.Type) == masterType(layout.Type)
}

// masterType folds placeholder types onto the handful a slide master defines.
func masterType(t string) string {
	switch t {
	case "title", "ctrTitle":
		return "title"
	case "dt", "ftr", "sldNum":
		return t
	default:
		return "body"
	}
}

// buildTable computes each cell's frame from the grid. Merged continuation
// cells are skipped.
func buildTable(t *xmlTable, frame Rect) *Table {
	colX := make([]int64, len(t.Cols)+1)
	for i, c := range t.Cols {
		colX[i+1] = colX[i] + c.W
	}
	rowY := make([]int64, len(t.Rows)+1)
	for i, r := range t.Rows {
		rowY[i+1] = rowY[i] + r.H
	}

	out := &Table{Rows: make([]TableRow, 0, len(t.Rows))}
	for ri, row := range t.Rows {
		tr := TableRow{}
		for ci, cell := range row.Cells {
			if cell.HMerge || cell.VMerge || ci >= len(t.Cols) {
				continue
			}
			span := max(cell.GridSpan, 1)
			rowSpan := max(cell.RowSpan, 1)
			endCol := min(ci+span, len(t.Cols))
			endRow := min(ri+rowSpan, len(t.Rows))

			tr.Cells = append(tr.Cells, TableCell{
				Row:    ri,
				Column: ci,
				Frame: Rect{
					X:      frame.X + colX[ci],
					Y:      frame.Y + rowY[ri],
					Width:  colX[endCol] - colX[ci],
					Height: rowY[endRow] - rowY[ri],
				},
				Text: textBody(cell.TxBody),
			})
		}
		out.Rows = append(out.Rows, tr)
	}
	return out
}

func textBody(x *xmlTxBody) *TextBody {
	if x == nil {
		return nil
	}
	body := &TextBody{Anchor: x.BodyPr.Anchor, Paragraphs: make([]Paragraph, 0, len(x.Paragraphs))}
	for _, xp := range x.Paragraphs {
		var p Paragraph
		if xp.Props != nil {
			p.Align = xp.Props.Align
			if ls := xp.Props.LineSpacing; ls != nil && ls.Percent != nil {
				p.LineSpacing = float64(ls.Percent.Val) / 100000
			}
		}
		for _, xr := range xp.Runs {
			p.Runs = append(p.Runs, runOf(xr))
		}
		body.Paragraphs = append(body.Paragraphs, p)
	}
	return body
}

func runOf(xr xmlRun) Run {
	r := Run{Text: xr.Text}
	pr := xr.Props
	if pr == nil {
		return r
	}
	if pr.Size > 0 {
		r.SizePt = float64(pr.Size) / 100
	}
	r.Bold = xmlBool(pr.Bold)
	r.Italic = xmlBool(pr.Italic)
	// Theme font references such as +mj-lt are left to the default.
	if pr.Latin != nil && !strings.HasPrefix(pr.Latin.Typeface, "+") {
		r.Typeface = pr.Latin.Typeface
	}
	if pr.SolidFill != nil && pr.SolidFill.RGB != nil && pr.SolidFill.RGB.Val != "" {
		r.Color = "#" + strings.ToUpper(pr.SolidFill.RGB.Val)
	}
	return r
}
