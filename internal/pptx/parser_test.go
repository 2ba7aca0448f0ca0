package pptx_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/pptx/pptxtest"
)

const tableXML = `<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="10" name="Table 1"/><p:cNvGraphicFramePr/><p:nvPr/></p:nvGraphicFramePr>
<p:xfrm><a:off x="1000" y="2000"/><a:ext cx="600" cy="200"/></p:xfrm>
<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/table"><a:tbl>
<a:tblGrid><a:gridCol w="200"/><a:gridCol w="400"/></a:tblGrid>
<a:tr h="100"><a:tc><a:txBody><a:bodyPr/><a:p><a:r><a:t>Region</a:t></a:r></a:p></a:txBody></a:tc><a:tc><a:txBody><a:bodyPr/><a:p><a:r><a:t>Revenue</a:t></a:r></a:p></a:txBody></a:tc></a:tr>
<a:tr h="100"><a:tc gridSpan="2"><a:txBody><a:bodyPr/><a:p><a:r><a:t>Total</a:t></a:r></a:p></a:txBody></a:tc><a:tc hMerge="1"><a:txBody><a:bodyPr/><a:p/></a:txBody></a:tc></a:tr>
</a:tbl></a:graphicData></a:graphic></p:graphicFrame>`

const groupXML = `<p:grpSp><p:nvGrpSpPr><p:cNvPr id="20" name="Group 1"/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr>
<p:grpSpPr><a:xfrm><a:off x="1000" y="1000"/><a:ext cx="2000" cy="2000"/><a:chOff x="0" y="0"/><a:chExt cx="1000" cy="1000"/></a:xfrm></p:grpSpPr>
<p:sp><p:nvSpPr><p:cNvPr id="21" name="Inner"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>
<p:spPr><a:xfrm><a:off x="100" y="200"/><a:ext cx="300" cy="400"/></a:xfrm></p:spPr>
<p:txBody><a:bodyPr/><a:p><a:r><a:t>Grouped</a:t></a:r><a:br/><a:r><a:t>text</a:t></a:r></a:p></p:txBody></p:sp>
</p:grpSp>`

const pictureXML = `<p:pic><p:nvPicPr><p:cNvPr id="30" name="Picture 1" descr="Company logo"/><p:cNvPicPr/><p:nvPr/></p:nvPicPr>
<p:blipFill><a:blip r:embed="rIdImg"/></p:blipFill>
<p:spPr><a:xfrm><a:off x="5000" y="6000"/><a:ext cx="700" cy="800"/></a:xfrm></p:spPr></p:pic>`

const chartFrameXML = `<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="40" name="Chart 1"/><p:cNvGraphicFramePr/><p:nvPr/></p:nvGraphicFramePr>
<p:xfrm><a:off x="100" y="100"/><a:ext cx="500" cy="500"/></p:xfrm>
<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/chart"><c:chart xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart" r:id="rIdChart"/></a:graphicData></a:graphic></p:graphicFrame>`

const chartPart = `<?xml version="1.0" encoding="UTF-8"?>
<c:chartSpace xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
<c:chart><c:title><c:tx><c:rich><a:bodyPr/><a:p><a:r><a:t>Sales by quarter</a:t></a:r></a:p></c:rich></c:tx></c:title></c:chart></c:chartSpace>`

const extraRels = `<Relationship Id="rIdImg" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="../media/image1.png"/>
<Relationship Id="rIdChart" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/chart" Target="../charts/chart1.xml"/>
`

func open(t *testing.T, d pptxtest.Deck) *pptx.Presentation {
	t.Helper()
	path := pptxtest.Write(t, t.TempDir(), "deck.pptx", d)
	p, err := pptx.Open(path)
	require.NoError(t, err)
	return p
}

func TestOpen_SlideSizeAndOrder(t *testing.T) {
	p := open(t, pptxtest.Simple("First", "Second", "Third"))

	assert.Equal(t, pptxtest.SlideWidth, p.SlideWidth)
	assert.Equal(t, pptxtest.SlideHeight, p.SlideHeight)
	require.Equal(t, 3, p.SlideCount())

	for i, want := range []string{"First", "Second", "Third"} {
		s := p.Slides[i]
		require.NoError(t, s.Err)
		assert.Equal(t, i+1, s.Number)
		require.NotEmpty(t, s.Elements)
		assert.Equal(t, want, s.Elements[0].Text.Text())
		assert.True(t, s.Elements[0].Placeholder.IsTitle())
	}
}

func TestOpen_RunAndParagraphProperties(t *testing.T) {
	d := pptxtest.Deck{Slides: []pptxtest.Slide{{Shapes: []pptxtest.Shape{{
		ID: 2, Name: "Styled", X: 10, Y: 20, W: 30, H: 40,
		Paragraphs: []string{"Hello", "World"},
		Size:       2400, Bold: true, Color: "ff0000", Font: "Calibri",
		Align: "ctr", Anchor: "ctr",
	}}}}}

	p := open(t, d)
	el := p.Slides[0].Elements[0]

	assert.Equal(t, pptx.ElementText, el.Kind)
	assert.Equal(t, pptx.Rect{X: 10, Y: 20, Width: 30, Height: 40}, el.Frame)
	assert.Equal(t, "Hello\nWorld", el.Text.Text())
	assert.Equal(t, "ctr", el.Text.Anchor)

	para, run, ok := el.Text.FirstRun()
	require.True(t, ok)
	assert.Equal(t, "ctr", para.Align)
	assert.Equal(t, 24.0, run.SizePt)
	require.NotNil(t, run.Bold)
	assert.True(t, *run.Bold)
	assert.Nil(t, run.Italic)
	assert.Equal(t, "#FF0000", run.Color)
	assert.Equal(t, "Calibri", run.Typeface)
}

func TestOpen_PlaceholderInheritsLayoutFrame(t *testing.T) {
	d := pptxtest.Deck{Slides: []pptxtest.Slide{{Shapes: []pptxtest.Shape{
		{ID: 2, Name: "Title", Placeholder: "ctrTitle", NoFrame: true, Paragraphs: []string{"Inherited"}},
		{ID: 3, Name: "Sub", Placeholder: "subTitle", NoFrame: true, Paragraphs: []string{"Subtitle"}},
	}}}}

	p := open(t, d)
	els := p.Slides[0].Elements
	require.Len(t, els, 2)

	assert.True(t, els[0].HasFrame)
	assert.Equal(t, pptx.Rect{X: 457200, Y: 205978, Width: 8229600, Height: 857250}, els[0].Frame)
	assert.True(t, els[0].Placeholder.IsTitle())

	assert.True(t, els[1].Placeholder.IsSubtitle())
	assert.Equal(t, int64(2914650), els[1].Frame.Y)
}

func TestOpen_TablesGroupsPicturesCharts(t *testing.T) {
	d := pptxtest.Deck{
		Slides: []pptxtest.Slide{{
			Raw:  tableXML + groupXML + pictureXML + chartFrameXML,
			Rels: extraRels,
		}},
		Parts: map[string][]byte{
			"ppt/media/image1.png":  {0x89, 'P', 'N', 'G'},
			"ppt/charts/chart1.xml": []byte(chartPart),
		},
	}

	p := open(t, d)
	els := p.Slides[0].Elements
	require.Len(t, els, 4)

	table := els[0]
	assert.Equal(t, pptx.ElementTable, table.Kind)
	require.Len(t, table.Table.Rows, 2)
	require.Len(t, table.Table.Rows[0].Cells, 2)
	assert.Equal(t, pptx.Rect{X: 1200, Y: 2000, Width: 400, Height: 100}, table.Table.Rows[0].Cells[1].Frame)
	assert.Equal(t, "Revenue", table.Table.Rows[0].Cells[1].Text.Text())
	require.Len(t, table.Table.Rows[1].Cells, 1, "merged continuation cell skipped")
	assert.Equal(t, int64(600), table.Table.Rows[1].Cells[0].Frame.Width)

	grouped := els[1]
	assert.Equal(t, "Grouped\ntext", grouped.Text.Text())
	assert.Equal(t, pptx.Rect{X: 1200, Y: 1400, Width: 600, Height: 800}, grouped.Frame)

	pic := els[2]
	assert.Equal(t, pptx.ElementPicture, pic.Kind)
	assert.Equal(t, "Company logo", pic.Description)
	assert.Equal(t, "ppt/media/image1.png", pic.Image.PartName)
	assert.Equal(t, "image/png", pic.Image.ContentType)

	chart := els[3]
	assert.Equal(t, pptx.ElementChart, chart.Kind)
	assert.Equal(t, "Sales by quarter", chart.Text.Text())
}

func TestOpen_BrokenSlideIsIsolated(t *testing.T) {
	data, err := pptxtest.Bytes(pptxtest.Simple("ok", "also ok"))
	require.NoError(t, err)

	p, err := pptx.Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, 2, p.SlideCount())

	broken := pptxtest.Simple("ok", "broken")
	broken.Slides[1].Raw = "<p:sp><unclosed>"
	data, err = pptxtest.Bytes(broken)
	require.NoError(t, err)

	p, err = pptx.Parse(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.NoError(t, p.Slides[0].Err)
	assert.Error(t, p.Slides[1].Err)
}

func TestOpen_NotAPresentation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pptx")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := pptx.Open(path)
	assert.ErrorIs(t, err, pptx.ErrInvalidPackage)
}
