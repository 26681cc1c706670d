package progress

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/models"
)

// TransferUI renders one mpb bar per transfer task. Bars are scaled to
// percent since the byte size of a download is not known when it is queued.
// On a non-terminal output it prints one line when a task starts and one
// when it finishes.
type TransferUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool

	mu    sync.Mutex
	bars  map[string]*taskBar
	count int
}

type taskBar struct {
	bar       *mpb.Bar
	index     int
	label     string
	speed     atomic.Uint64 // float64 bits, read by the render goroutine
	startTime time.Time
}

// NewTransferUI creates a UI writing to stderr, with bars only when stderr
// is a terminal.
func NewTransferUI() *TransferUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSI(os.Stderr)
	}
	return newTransferUI(os.Stderr, isTerminal)
}

func newTransferUI(out io.Writer, isTerminal bool) *TransferUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(100),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &TransferUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		bars:       make(map[string]*taskBar),
	}
}

// Handle creates, advances or finishes the bar for ev's task.
func (u *TransferUI) Handle(ev *events.TransferEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	tb, ok := u.bars[ev.TaskID]
	if !ok {
		tb = u.addBar(ev)
	}
	tb.speed.Store(math.Float64bits(ev.Speed))

	switch ev.Type() {
	case events.EventTransferProgress:
		if tb.bar != nil {
			tb.bar.SetCurrent(int64(ev.Percent))
		}
	case events.EventTransferCompleted:
		u.finish(tb, ev)
		delete(u.bars, ev.TaskID)
	}
}

func (u *TransferUI) addBar(ev *events.TransferEvent) *taskBar {
	u.count++
	tb := &taskBar{
		index:     u.count,
		label:     describe(ev),
		startTime: time.Now(),
	}
	u.bars[ev.TaskID] = tb

	if !u.isTerminal {
		fmt.Fprintf(u.out, "%s [%d]: %s\n", verb(ev.Direction), tb.index, tb.label)
		return tb
	}

	tb.bar = u.progress.New(100,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf("[%d] %s", tb.index, tb.label)
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				return formatSpeed(math.Float64frombits(tb.speed.Load()))
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	return tb
}

func (u *TransferUI) finish(tb *taskBar, ev *events.TransferEvent) {
	elapsed := time.Since(tb.startTime).Round(time.Second)

	var msg string
	if ev.Status == models.TransferCompleted {
		if tb.bar != nil {
			tb.bar.SetCurrent(100)
		}
		msg = fmt.Sprintf("✓ %s (%s, %s)\n", tb.label, formatSize(ev.BytesTotal), elapsed)
	} else {
		if tb.bar != nil {
			tb.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s: %v\n", tb.label, ev.Err)
	}
	_, _ = io.WriteString(u.Writer(), msg)
}

// Writer returns mpb's writer in terminal mode so lines print above the bars.
func (u *TransferUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal reports whether bars are being drawn.
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

// Wait aborts any bar that never finished and waits for rendering to end.
func (u *TransferUI) Wait() {
	u.mu.Lock()
	for id, tb := range u.bars {
		if tb.bar != nil {
			tb.bar.Abort(false)
		}
		delete(u.bars, id)
	}
	u.mu.Unlock()
	u.progress.Wait()
}

func describe(ev *events.TransferEvent) string {
	if ev.Direction == models.DirectionUpload {
		return fmt.Sprintf("%s → %s", truncatePath(ev.LocalPath, 2), ev.RemotePath)
	}
	return fmt.Sprintf("%s ← %s", truncatePath(ev.LocalPath, 2), ev.RemotePath)
}

func verb(d models.TransferDirection) string {
	if d == models.DirectionUpload {
		return "Uploading"
	}
	return "Downloading"
}

func formatSize(n int64) string {
	if n <= 0 {
		return "size unknown"
	}
	return fmt.Sprintf("%.1f MiB", float64(n)/(1024*1024))
}

func formatSpeed(bps float64) string {
	if bps <= 0 {
		return "-- MiB/s"
	}
	return fmt.Sprintf("%.1f MiB/s", bps/(1024*1024))
}

// truncatePath shortens a path to its last n components.
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, n int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= n {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-n:], "/")
}
