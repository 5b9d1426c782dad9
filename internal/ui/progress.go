package ui

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"pkengine/pkg/engine"
)

// Renderer is an engine.Sink that draws a Job's status and progress on a
// terminal and keeps every other event for printing once the Job ends.
type Renderer struct {
	engine.Collector

	mu      sync.Mutex
	w       io.Writer
	quiet   bool
	bar     *progressbar.ProgressBar
	spinner *Spinner
	status  engine.Status
}

// NewRenderer creates a Renderer drawing on w. A quiet Renderer only collects.
func NewRenderer(w io.Writer, quiet bool) *Renderer {
	return &Renderer{w: w, quiet: quiet}
}

// WithSpinner makes status changes relabel sp instead of drawing a bar.
func (r *Renderer) WithSpinner(sp *Spinner) *Renderer {
	r.spinner = sp
	return r
}

// Emit implements engine.Sink.
func (r *Renderer) Emit(ev engine.Event) {
	switch e := ev.(type) {
	case engine.StatusEvent:
		r.setStatus(e.Status)
		return
	case engine.ProgressEvent:
		r.setProgress(e.Percentage)
		return
	case engine.AllowCancelEvent:
		return
	}
	if engine.IsTerminal(ev) {
		r.close()
	}
	r.Collector.Emit(ev)
}

func (r *Renderer) setStatus(s engine.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == r.status {
		return
	}
	if r.spinner != nil {
		r.status = s
		if s != engine.StatusFinished {
			r.spinner.UpdateMessage(StatusText(s))
		}
		return
	}
	if r.quiet {
		return
	}
	r.status = s
	if s == engine.StatusFinished {
		return
	}
	if r.bar == nil {
		r.bar = r.newBar(s.String())
		return
	}
	r.bar.Describe(s.String())
}

func (r *Renderer) setProgress(pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiet || r.spinner != nil {
		return
	}
	if r.bar == nil {
		r.bar = r.newBar(r.status.String())
	}
	r.bar.Set(pct) //nolint:errcheck
}

func (r *Renderer) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil {
		return
	}
	r.bar.Finish() //nolint:errcheck
	r.bar = nil
}

func (r *Renderer) newBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(r.w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// StatusText turns a status into a spinner label, e.g. "Refresh cache".
func StatusText(s engine.Status) string {
	text := strings.ReplaceAll(s.String(), "-", " ")
	if text == "" {
		return text
	}
	return strings.ToUpper(text[:1]) + text[1:]
}
