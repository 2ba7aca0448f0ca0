package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-facing output. In JSON mode only JSON is written to out.
type UI struct {
	out      io.Writer
	errOut   io.Writer
	jsonMode bool
}

// NewUI creates a UI writing to stdout and stderr.
func NewUI(jsonMode, noColor bool) *UI {
	if noColor {
		color.NoColor = true
	}
	return &UI{out: os.Stdout, errOut: os.Stderr, jsonMode: jsonMode}
}

func (ui *UI) print(c *color.Color, w io.Writer, prefix, format string, args ...any) {
	if ui.jsonMode {
		return
	}
	c.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...any) {
	ui.print(color.New(color.FgGreen), ui.out, "✓", format, args...)
}

// Error prints an error message to stderr.
func (ui *UI) Error(format string, args ...any) {
	ui.print(color.New(color.FgRed), ui.errOut, "✗", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...any) {
	ui.print(color.New(color.FgYellow), ui.out, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...any) {
	ui.print(color.New(color.FgCyan), ui.out, "ℹ", format, args...)
}

// Field prints an aligned key/value line.
func (ui *UI) Field(key string, value any) {
	if ui.jsonMode {
		return
	}
	color.New(color.Bold).Fprintf(ui.out, "  %-16s", key+":")
	fmt.Fprintf(ui.out, " %v\n", value)
}

// JSON writes v as indented JSON regardless of mode.
func (ui *UI) JSON(v any) error {
	enc := json.NewEncoder(ui.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Spinner starts an indeterminate spinner. Stop it with the returned func.
func (ui *UI) Spinner(message string) func() {
	if ui.jsonMode {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = ui.errOut
	s.Start()
	return s.Stop
}

// JobBar follows one job's 0-100 progress.
type JobBar interface {
	Update(progress int, stage string)
	Done()
}

type nopBar struct{}

func (nopBar) Update(int, string) {}
func (nopBar) Done()              {}

// singleBar renders one job with progressbar.
type singleBar struct {
	bar *progressbar.ProgressBar
}

// NewJobBar creates a bar for a single job.
func (ui *UI) NewJobBar(description string) JobBar {
	if ui.jsonMode {
		return nopBar{}
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(ui.errOut),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(ui.errOut) }),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &singleBar{bar: bar}
}

func (b *singleBar) Update(progress int, stage string) {
	b.bar.Describe(stage)
	_ = b.bar.Set(progress)
}

func (b *singleBar) Done() {
	_ = b.bar.Finish()
}

// MultiProgress renders one mpb bar per job.
type MultiProgress struct {
	progress *mpb.Progress
}

// NewMultiProgress creates a container for several job bars.
func (ui *UI) NewMultiProgress() *MultiProgress {
	if ui.jsonMode {
		return &MultiProgress{}
	}
	return &MultiProgress{progress: mpb.New(mpb.WithWidth(48), mpb.WithOutput(ui.errOut))}
}

type multiBar struct {
	bar *mpb.Bar
}

// Add registers a bar named after the job's file.
func (m *MultiProgress) Add(name string) JobBar {
	if m.progress == nil {
		return nopBar{}
	}
	bar := m.progress.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.Percentage(decor.WC{W: 5}),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
		),
	)
	return &multiBar{bar: bar}
}

func (b *multiBar) Update(progress int, stage string) {
	b.bar.SetCurrent(int64(progress))
}

func (b *multiBar) Done() {
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
}

// Wait blocks until every bar has finished rendering.
func (m *MultiProgress) Wait() {
	if m.progress != nil {
		m.progress.Wait()
	}
}
