// Package progress renders transfer events for the command line: a bar per
// task on a terminal, plain lines otherwise.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/models"
)

// CLIProgress shows a single progressbar for one transfer. It suits get and
// put of a single file, where the multi-bar layout adds nothing.
type CLIProgress struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a single-bar renderer writing to stderr.
func NewCLIProgress() *CLIProgress {
	return newCLIProgress(os.Stderr)
}

func newCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

// Handle starts the bar on the first event, then tracks its percentage.
func (p *CLIProgress) Handle(ev *events.TransferEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription(describe(ev)),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetWidth(50),
			progressbar.OptionThrottle(100),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	switch ev.Type() {
	case events.EventTransferProgress:
		_ = p.bar.Set(ev.Percent)
	case events.EventTransferCompleted:
		if ev.Status == models.TransferCompleted {
			_ = p.bar.Finish()
			fmt.Fprintln(p.out)
		} else {
			_ = p.bar.Exit()
			fmt.Fprintf(p.out, "\nError: %v\n", ev.Err)
		}
		p.bar = nil
	}
}

// Writer returns the bar's output.
func (p *CLIProgress) Writer() io.Writer {
	return p.out
}

// Wait closes a bar left open by a task that never finished.
func (p *CLIProgress) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Exit()
		p.bar = nil
	}
}

// NoOpProgress discards all events (quiet mode).
type NoOpProgress struct{}

// NewNoOpProgress creates a renderer that draws nothing.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Handle does nothing.
func (p *NoOpProgress) Handle(*events.TransferEvent) {}

// Writer returns io.Discard.
func (p *NoOpProgress) Writer() io.Writer { return io.Discard }

// Wait does nothing.
func (p *NoOpProgress) Wait() {}

// New picks a renderer: none when quiet, a single bar for one task, and
// the multi-bar UI otherwise.
func New(tasks int, quiet bool) Renderer {
	switch {
	case quiet:
		return NewNoOpProgress()
	case tasks == 1:
		return NewCLIProgress()
	default:
		return NewTransferUI()
	}
}
