package transfer

import (
	"testing"

	"github.com/rescale/remotesh/internal/models"
)

func TestTaskUpdate(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		steps   []int64
		want    []int
		changed []bool
	}{
		{
			name:    "increasing",
			total:   200,
			steps:   []int64{2, 50, 100},
			want:    []int{1, 25, 50},
			changed: []bool{true, true, true},
		},
		{
			name:    "repeats and regressions are ignored",
			total:   100,
			steps:   []int64{10, 10, 5, 11},
			want:    []int{10, 10, 10, 11},
			changed: []bool{true, false, false, true},
		},
		{
			name:    "capped below completion",
			total:   100,
			steps:   []int64{100, 150},
			want:    []int{99, 99},
			changed: []bool{true, false},
		},
		{
			name:    "unknown total",
			total:   0,
			steps:   []int64{10, 20},
			want:    []int{0, 0},
			changed: []bool{false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTransferTask("task-1", models.DirectionDownload, "/l", "/r", tt.total)
			task.start()
			for i, step := range tt.steps {
				got, changed := task.update(step)
				if got != tt.want[i] || changed != tt.changed[i] {
					t.Errorf("update(%d) = %d, %v; want %d, %v", step, got, changed, tt.want[i], tt.changed[i])
				}
			}
		})
	}
}

func TestTaskUpdateIgnoredUntilRunning(t *testing.T) {
	task := newTransferTask("task-1", models.DirectionUpload, "/l", "/r", 100)
	if _, changed := task.update(50); changed {
		t.Error("pending task accepted progress")
	}
	if task.Status() != models.TransferPending {
		t.Errorf("status = %s, want pending", task.Status())
	}
}

func TestTaskComplete(t *testing.T) {
	task := newTransferTask("task-1", models.DirectionDownload, "/l", "/r", 300)
	task.start()
	task.update(100)
	task.complete()

	snap := task.Snapshot()
	if snap.Status != models.TransferCompleted || snap.Percent != 100 || snap.BytesDone != 300 {
		t.Errorf("snapshot = %+v", snap)
	}
	if !task.isTerminal() {
		t.Error("completed task not terminal")
	}
}
