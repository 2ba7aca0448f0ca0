package slides

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

// DefaultThumbnailWidth is used when no width is configured.
const DefaultThumbnailWidth = 250

const labelRunes = 20

var (
	thumbBackground = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	thumbBorder     = color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff}
	thumbLabel      = color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}

	fillTitle    = color.RGBA{R: 0x9d, G: 0xc3, B: 0xe6, A: 0xff}
	fillSubtitle = color.RGBA{R: 0xb5, G: 0xe3, B: 0xb0, A: 0xff}
	fillText     = color.RGBA{R: 0xe4, G: 0xe4, B: 0xe4, A: 0xff}
	fillTable    = color.RGBA{R: 0xd6, G: 0xee, B: 0xee, A: 0xff}
	fillChart    = color.RGBA{R: 0xe6, G: 0xd8, B: 0xf0, A: 0xff}
	fillImage    = color.RGBA{R: 0xf7, G: 0xd9, B: 0xb5, A: 0xff}
)

// ThumbnailSize returns the pixel size for a slide of the given native size.
func ThumbnailSize(slideW, slideH float64, width int) (int, int) {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	if slideW <= 0 || slideH <= 0 {
		return width, width * 9 / 16
	}
	h := int(math.Round(float64(width) * slideH / slideW))
	if h < 1 {
		h = 1
	}
	return width, h
}

// RenderThumbnail draws a block diagram of the slide's shapes as PNG.
func RenderThumbnail(w io.Writer, shapes []domain.Shape, slideW, slideH float64, width int) error {
	width, height := ThumbnailSize(slideW, slideH, width)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: thumbBackground}, image.Point{}, draw.Src)

	sx, sy := 0.0, 0.0
	if slideW > 0 && slideH > 0 {
		sx, sy = float64(width)/slideW, float64(height)/slideH
	}

	for _, s := range shapes {
		b := s.BoundingBox
		r := image.Rect(
			int(b.X*sx), int(b.Y*sy),
			int(math.Ceil((b.X+b.Width)*sx)), int(math.Ceil((b.Y+b.Height)*sy)),
		).Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		draw.Draw(img, r, &image.Uniform{C: fillFor(s)}, image.Point{}, draw.Over)
		strokeRect(img, r, thumbBorder)

		if label := thumbnailLabel(s); label != "" {
			d := font.Drawer{
				Dst:  img.SubImage(r.Inset(1)).(*image.RGBA),
				Src:  image.NewUniform(thumbLabel),
				Face: basicfont.Face7x13,
				Dot:  fixed.P(r.Min.X+2, r.Min.Y+11),
			}
			d.DrawString(label)
		}
	}
	return png.Encode(w, img)
}

func fillFor(s domain.Shape) color.Color {
	switch {
	case s.Text != nil && s.Text.IsTitle:
		return fillTitle
	case s.Text != nil && s.Text.IsSubtitle:
		return fillSubtitle
	}
	switch s.Kind {
	case domain.ShapeKindImage:
		return fillImage
	case domain.ShapeKindTableCell:
		return fillTable
	case domain.ShapeKindChartText:
		return fillChart
	default:
		return fillText
	}
}

func thumbnailLabel(s domain.Shape) string {
	if s.Kind == domain.ShapeKindImage {
		return "[image]"
	}
	r := []rune(s.PlainText())
	if len(r) > labelRunes {
		return string(r[:labelRunes]) + "..."
	}
	return string(r)
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}
