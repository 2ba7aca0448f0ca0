package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
)

// PageExtractor splits a PDF into one SVG file per page.
type PageExtractor interface {
	ExtractSVG(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// FitzExtractor converts PDF pages to SVG with MuPDF.
type FitzExtractor struct{}

// ExtractSVG writes slide_{n}.svg for every page and returns the paths in page order.
func (FitzExtractor) ExtractSVG(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		svg, err := doc.SVG(i)
		if err != nil {
			return nil, fmt.Errorf("convert page %d: %w", i+1, err)
		}

		path := filepath.Join(outDir, SlideFileName(i+1))
		if err := os.WriteFile(path, []byte(svg), 0o644); err != nil {
			return nil, fmt.Errorf("write page %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SlideFileName is the SVG file name for a 1-based slide number.
func SlideFileName(n int) string {
	return fmt.Sprintf("slide_%d.svg", n)
}
