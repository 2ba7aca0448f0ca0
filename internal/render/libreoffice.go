// Package render turns a presentation into per-slide SVG files using an
// external office suite.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// ErrPageCountMismatch is wrapped when the renderer output does not line up
// with the slide count.
var ErrPageCountMismatch = errors.New("page count mismatch")

const checkTimeout = 30 * time.Second

// Renderer converts a document into one vector image per page.
type Renderer interface {
	// Check verifies the renderer is installed and runnable.
	Check(ctx context.Context) error
	// Render returns 1-based page number to SVG path. It fails unless exactly
	// expected pages were produced.
	Render(ctx context.Context, docPath, outDir string, expected int) (map[int]string, error)
}

// LibreOffice renders through soffice (pptx to pdf) and MuPDF (pdf to svg).
type LibreOffice struct {
	binary    string
	timeout   time.Duration
	runner    CommandRunner
	extractor PageExtractor
	lookPath  func(string) (string, error)
	logger    *observability.Logger
}

// Option customizes a LibreOffice renderer.
type Option func(*LibreOffice)

// WithRunner replaces the subprocess runner.
func WithRunner(r CommandRunner) Option {
	return func(l *LibreOffice) { l.runner = r }
}

// WithExtractor replaces the PDF page extractor.
func WithExtractor(e PageExtractor) Option {
	return func(l *LibreOffice) { l.extractor = e }
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(l *LibreOffice) { l.lookPath = fn }
}

// NewLibreOffice creates a renderer calling binary with a per-call timeout.
func NewLibreOffice(binary string, timeout time.Duration, logger *observability.Logger, opts ...Option) *LibreOffice {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if binary == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	l := &LibreOffice{
		binary:    binary,
		timeout:   timeout,
		runner:    ExecRunner{},
		extractor: FitzExtractor{},
		lookPath:  exec.LookPath,
		logger:    logger.WithOperation("render"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check resolves the binary and asks it for its version.
func (l *LibreOffice) Check(ctx context.Context) error {
	path, err := l.lookPath(l.binary)
	if err != nil {
		return domain.ConfigError(fmt.Sprintf("LibreOffice executable %q not found", l.binary), err)
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	res, err := l.runner.Run(ctx, path, "--version")
	if err != nil {
		return domain.ConfigError("LibreOffice is installed but not runnable", withStderr(err, res))
	}

	l.logger.Debug().
		Str("path", path).
		Str("version", strings.TrimSpace(res.Stdout)).
		Msg("Renderer available")
	return nil
}

// Render converts docPath to PDF in outDir and splits it into SVG pages.
func (l *LibreOffice) Render(ctx context.Context, docPath, outDir string, expected int) (map[int]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, domain.IOError("failed to create render directory", err)
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, domain.IOError("failed to resolve render directory", err)
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	// A private profile lets several conversions run side by side.
	profile := filepath.ToSlash(filepath.Join(absOut, ".lo-profile"))
	args := []string{
		"-env:UserInstallation=file://" + profile,
		"--headless", "--invisible", "--nodefault", "--norestore",
		"--convert-to", "pdf",
		"--outdir", absOut,
		docPath,
	}

	res, err := l.runner.Run(runCtx, l.binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.RenderError(fmt.Sprintf("LibreOffice conversion timed out after %s", l.timeout), err)
		}
		return nil, domain.RenderError("LibreOffice conversion failed", withStderr(err, res))
	}

	base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	pdfPath := filepath.Join(absOut, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, domain.RenderError("LibreOffice did not produce a PDF", withStderr(err, res))
	}

	pages, err := l.extractor.ExtractSVG(ctx, pdfPath, absOut)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.RenderError("failed to convert PDF pages to SVG", err)
	}

	if len(pages) != expected {
		return nil, domain.RenderError(
			fmt.Sprintf("renderer produced %d slide images but the presentation has %d slides", len(pages), expected),
			ErrPageCountMismatch,
		)
	}

	out := make(map[int]string, len(pages))
	for i, p := range pages {
		out[i+1] = p
	}

	l.logger.Info().
		Str("document", filepath.Base(docPath)).
		Int("pages", len(out)).
		Elapsed(start).
		Msg("Rendered slides")
	return out, nil
}

func withStderr(err error, res CommandResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		return err
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return fmt.Errorf("%w: %s", err, msg)
}
