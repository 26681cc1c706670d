// Package transfer runs uploads and downloads as independent tasks and
// reports their progress through the event bus.
package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/models"
)

// TransferTask is one upload or download. The identifying fields never
// change; everything else is read through the thread-safe accessors.
type TransferTask struct {
	ID         string
	Direction  models.TransferDirection
	LocalPath  string
	RemotePath string

	mu          sync.RWMutex
	status      models.TransferStatus
	percent     int
	bytesDone   int64
	bytesTotal  int64
	speed       ewma.MovingAverage
	lastBytes   int64
	lastSample  time.Time
	err         error
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a point-in-time copy of a task for display.
type Snapshot struct {
	ID          string
	Direction   models.TransferDirection
	LocalPath   string
	RemotePath  string
	Status      models.TransferStatus
	Percent     int
	BytesDone   int64
	BytesTotal  int64
	Speed       float64 // bytes/sec, smoothed
	Err         error
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

func newTransferTask(id string, direction models.TransferDirection, localPath, remotePath string, size int64) *TransferTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &TransferTask{
		ID:         id,
		Direction:  direction,
		LocalPath:  localPath,
		RemotePath: remotePath,
		status:     models.TransferPending,
		bytesTotal: size,
		speed:      ewma.NewMovingAverage(constants.SpeedSmoothingAge),
		createdAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Status returns the current status.
func (t *TransferTask) Status() models.TransferStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Percent returns the last published percentage.
func (t *TransferTask) Percent() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.percent
}

// Err returns the failure cause once the task failed.
func (t *TransferTask) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Done is closed when the task reaches Completed or Failed.
func (t *TransferTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends, and returns the task's
// error (nil when Completed).
func (t *TransferTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the task's state.
func (t *TransferTask) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:          t.ID,
		Direction:   t.Direction,
		LocalPath:   t.LocalPath,
		RemotePath:  t.RemotePath,
		Status:      t.status,
		Percent:     t.percent,
		BytesDone:   t.bytesDone,
		BytesTotal:  t.bytesTotal,
		Speed:       t.speed.Value(),
		Err:         t.err,
		CreatedAt:   t.createdAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
	}
}

// start moves a pending task to Running.
func (t *TransferTask) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = models.TransferRunning
	t.startedAt = time.Now()
	t.lastSample = t.startedAt
}

func (t *TransferTask) setTotal(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.bytesTotal = n
	}
}

func (t *TransferTask) total() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bytesTotal
}

// update records bytesDone and returns the new percentage when it grew.
// While running the percentage is capped at 99: only complete reports 100.
func (t *TransferTask) update(bytesDone int64) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != models.TransferRunning || bytesDone < t.bytesDone {
		return t.percent, false
	}
	t.bytesDone = bytesDone

	now := time.Now()
	if elapsed := now.Sub(t.lastSample).Seconds(); elapsed >= 0.1 && bytesDone > t.lastBytes {
		t.speed.Add(float64(bytesDone-t.lastBytes) / elapsed)
		t.lastBytes = bytesDone
		t.lastSample = now
	}

	if t.bytesTotal <= 0 {
		return t.percent, false
	}
	p := int(bytesDone * 100 / t.bytesTotal)
	if p > 99 {
		p = 99
	}
	if p <= t.percent {
		return t.percent, false
	}
	t.percent = p
	return p, true
}

func (t *TransferTask) complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = models.TransferCompleted
	t.percent = 100
	if t.bytesTotal > 0 {
		t.bytesDone = t.bytesTotal
	}
	t.completedAt = time.Now()
}

func (t *TransferTask) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = models.TransferFailed
	t.err = err
	t.completedAt = time.Now()
}

// requestCancel signals the running unit; it stops at its next checkpoint.
func (t *TransferTask) requestCancel() {
	t.cancel()
}

func (t *TransferTask) cancelled() bool {
	return t.ctx.Err() != nil
}

func (t *TransferTask) isTerminal() bool {
	return t.Status().IsTerminal()
}
