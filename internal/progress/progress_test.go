package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/models"
)

func transferEvent(eventType events.EventType, id string, status models.TransferStatus, pct int) *events.TransferEvent {
	ev := events.NewTransferEvent(eventType)
	ev.TaskID = id
	ev.Direction = models.DirectionDownload
	ev.LocalPath = "/tmp/out/data.bin"
	ev.RemotePath = "/data/data.bin"
	ev.Status = status
	ev.Percent = pct
	ev.BytesTotal = 2 * 1024 * 1024
	return ev
}

func TestTransferUIPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	ui := newTransferUI(&buf, false)

	ui.Handle(transferEvent(events.EventTransferProgress, "task-1", models.TransferPending, 0))
	ui.Handle(transferEvent(events.EventTransferProgress, "task-2", models.TransferPending, 0))
	ui.Handle(transferEvent(events.EventTransferProgress, "task-1", models.TransferRunning, 50))
	ui.Handle(transferEvent(events.EventTransferCompleted, "task-1", models.TransferCompleted, 100))

	failed := transferEvent(events.EventTransferCompleted, "task-2", models.TransferFailed, 10)
	failed.Err = errors.New("transfer cancelled")
	ui.Handle(failed)
	ui.Wait()

	out := buf.String()
	for _, want := range []string{
		"Downloading [1]: …/out/data.bin ← /data/data.bin",
		"Downloading [2]:",
		"✓ …/out/data.bin ← /data/data.bin (2.0 MiB",
		"✗ …/out/data.bin ← /data/data.bin: transfer cancelled",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "Downloading"); n != 2 {
		t.Errorf("start lines = %d, want 2", n)
	}
}

func TestCLIProgressFailure(t *testing.T) {
	var buf bytes.Buffer
	p := newCLIProgress(&buf)

	p.Handle(transferEvent(events.EventTransferProgress, "task-1", models.TransferPending, 0))
	failed := transferEvent(events.EventTransferCompleted, "task-1", models.TransferFailed, 0)
	failed.Err = errors.New("scp: permission denied")
	p.Handle(failed)
	p.Wait()

	if !strings.Contains(buf.String(), "Error: scp: permission denied") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestFollow(t *testing.T) {
	ch := make(chan events.Event, 10)
	ch <- transferEvent(events.EventTransferProgress, "task-1", models.TransferPending, 0)
	ch <- &events.LifecycleEvent{}
	ch <- transferEvent(events.EventTransferCompleted, "task-1", models.TransferCompleted, 100)
	failed := transferEvent(events.EventTransferCompleted, "task-2", models.TransferFailed, 0)
	failed.Err = errors.New("boom")
	ch <- failed
	ch <- transferEvent(events.EventTransferProgress, "task-3", models.TransferPending, 0)

	ui := newTransferUI(&bytes.Buffer{}, false)
	got := Follow(context.Background(), ch, ui, 2)
	if got != 1 {
		t.Errorf("succeeded = %d, want 1", got)
	}
	if len(ch) != 1 {
		t.Errorf("remaining events = %d, want 1 left unread", len(ch))
	}
}

func TestFollowStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if got := Follow(ctx, make(chan events.Event), NewNoOpProgress(), 1); got != 0 {
		t.Errorf("succeeded = %d, want 0", got)
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"/a/b/c/d/file.txt", 3, "…/c/d/file.txt"},
		{"/a/b/file.txt", 2, "…/b/file.txt"},
		{"file.txt", 2, "file.txt"},
		{"dir/file.txt", 2, "file.txt"},
	}
	for _, tt := range tests {
		if got := truncatePath(tt.path, tt.n); got != tt.want {
			t.Errorf("truncatePath(%q, %d) = %q, want %q", tt.path, tt.n, got, tt.want)
		}
	}
}
