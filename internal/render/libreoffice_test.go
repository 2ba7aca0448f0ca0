package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	// writePDF creates the output PDF the way soffice would.
	writePDF bool
	result   CommandResult
	err      error
	block    bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return CommandResult{ExitCode: -1}, ctx.Err()
	}
	if f.err != nil {
		return f.result, f.err
	}
	if f.writePDF {
		var outDir, doc string
		for i, a := range args {
			if a == "--outdir" {
				outDir = args[i+1]
			}
		}
		doc = args[len(args)-1]
		base := strings.TrimSuffix(filepath.Base(doc), filepath.Ext(doc))
		if err := os.WriteFile(filepath.Join(outDir, base+".pdf"), []byte("%PDF-1.7"), 0o644); err != nil {
			return CommandResult{}, err
		}
	}
	return f.result, nil
}

type fakeExtractor struct {
	pages int
	err   error
}

func (f fakeExtractor) ExtractSVG(_ context.Context, _ string, outDir string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(outDir, SlideFileName(i))
		if err := os.WriteFile(p, []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`), 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func foundAt(path string) func(string) (string, error) {
	return func(string) (string, error) { return path, nil }
}

func TestRender_ProducesPageMap(t *testing.T) {
	runner := &fakeRunner{writePDF: true}
	r := NewLibreOffice("soffice", time.Minute, nil,
		WithRunner(runner), WithExtractor(fakeExtractor{pages: 3}))

	out := filepath.Join(t.TempDir(), "render")
	pages, err := r.Render(context.Background(), "/uploads/deck.pptx", out, 3)
	require.NoError(t, err)

	require.Len(t, pages, 3)
	for n := 1; n <= 3; n++ {
		assert.Equal(t, filepath.Join(out, SlideFileName(n)), pages[n])
	}

	require.Len(t, runner.calls, 1)
	args := strings.Join(runner.calls[0], " ")
	assert.Contains(t, args, "--headless")
	assert.Contains(t, args, "--convert-to pdf")
	assert.Contains(t, args, "-env:UserInstallation=file://")
}

func TestRender_PageCountMismatchIsFatal(t *testing.T) {
	r := NewLibreOffice("soffice", time.Minute, nil,
		WithRunner(&fakeRunner{writePDF: true}), WithExtractor(fakeExtractor{pages: 4}))

	pages, err := r.Render(context.Background(), "deck.pptx", t.TempDir(), 5)
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.ErrorIs(t, err, ErrPageCountMismatch)
	assert.True(t, domain.IsType(err, domain.ErrorTypeRender))

	msg := domain.UserMessage(err)
	assert.Contains(t, msg, "4")
	assert.Contains(t, msg, "5")
}

func TestRender_SubprocessFailure(t *testing.T) {
	runner := &fakeRunner{
		err:    errors.New("exit status 1"),
		result: CommandResult{Stderr: "Error: source file could not be loaded", ExitCode: 1},
	}
	r := NewLibreOffice("soffice", time.Minute, nil, WithRunner(runner), WithExtractor(fakeExtractor{}))

	_, err := r.Render(context.Background(), "deck.pptx", t.TempDir(), 1)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeRender))
	assert.Contains(t, err.Error(), "could not be loaded")
}

func TestRender_MissingPDF(t *testing.T) {
	r := NewLibreOffice("soffice", time.Minute, nil,
		WithRunner(&fakeRunner{}), WithExtractor(fakeExtractor{pages: 1}))

	_, err := r.Render(context.Background(), "deck.pptx", t.TempDir(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not produce a PDF")
}

func TestRender_Timeout(t *testing.T) {
	r := NewLibreOffice("soffice", 20*time.Millisecond, nil,
		WithRunner(&fakeRunner{block: true}), WithExtractor(fakeExtractor{}))

	_, err := r.Render(context.Background(), "deck.pptx", t.TempDir(), 1)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeRender))
	assert.Contains(t, err.Error(), "timed out")
}

func TestRender_CallerCancellation(t *testing.T) {
	r := NewLibreOffice("soffice", time.Minute, nil,
		WithRunner(&fakeRunner{block: true}), WithExtractor(fakeExtractor{}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Render(ctx, "deck.pptx", t.TempDir(), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheck(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		r := NewLibreOffice("soffice", time.Minute, nil, WithLookPath(func(string) (string, error) {
			return "", errors.New("executable file not found in $PATH")
		}))
		err := r.Check(context.Background())
		require.Error(t, err)
		assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
	})

	t.Run("not runnable", func(t *testing.T) {
		r := NewLibreOffice("soffice", time.Minute, nil,
			WithLookPath(foundAt("/usr/bin/soffice")),
			WithRunner(&fakeRunner{err: errors.New("exit status 127")}))
		err := r.Check(context.Background())
		assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
	})

	t.Run("available", func(t *testing.T) {
		runner := &fakeRunner{result: CommandResult{Stdout: "LibreOffice 7.6.4.1"}}
		r := NewLibreOffice("soffice", time.Minute, nil,
			WithLookPath(foundAt("/usr/bin/soffice")), WithRunner(runner))
		require.NoError(t, r.Check(context.Background()))
		assert.Equal(t, []string{"/usr/bin/soffice", "--version"}, runner.calls[0])
	})
}
