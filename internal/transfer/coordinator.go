package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/diskspace"
	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/metrics"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/transport"
)

// SessionSource hands out the live transport. session.Manager satisfies it.
type SessionSource interface {
	Transport() (transport.Transport, error)
}

// Options configures a Coordinator.
type Options struct {
	Bus    *events.EventBus
	Logger *logging.Logger

	// MaxConcurrent bounds how many tasks move bytes at once. Tasks beyond
	// the limit stay Pending until a slot frees up.
	MaxConcurrent int

	// Timeout bounds a single task once it is running. Zero means none.
	Timeout time.Duration

	// SkipDiskSpaceCheck disables the free-space check before downloads.
	SkipDiskSpaceCheck bool
}

// QueueStats summarizes the tracked tasks.
type QueueStats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// Total returns the number of tracked tasks.
func (s QueueStats) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed
}

// Active returns the number of tasks that have not finished.
func (s QueueStats) Active() int {
	return s.Pending + s.Running
}

// Coordinator runs uploads and downloads independently of the command
// queue. Each task runs on its own goroutine; a semaphore caps how many copy
// at once.
type Coordinator struct {
	source  SessionSource
	bus     *events.EventBus
	log     *logging.Logger
	timeout time.Duration
	noCheck bool

	sem chan struct{}
	seq atomic.Uint64
	wg  sync.WaitGroup

	mu    sync.RWMutex
	tasks map[string]*TransferTask
}

// NewCoordinator creates a coordinator drawing transports from source.
func NewCoordinator(source SessionSource, opts Options) *Coordinator {
	limit := opts.MaxConcurrent
	if limit < constants.MinMaxConcurrent {
		limit = constants.DefaultMaxConcurrent
	}
	if limit > constants.MaxMaxConcurrent {
		limit = constants.MaxMaxConcurrent
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		source:  source,
		bus:     opts.Bus,
		log:     log.WithComponent("transfer"),
		timeout: opts.Timeout,
		noCheck: opts.SkipDiskSpaceCheck,
		sem:     make(chan struct{}, limit),
		tasks:   make(map[string]*TransferTask),
	}
}

// Download starts copying remotePath to localPath. It fails synchronously
// only when there is no connected session; every later failure is reported
// on the returned task and through the event bus.
func (c *Coordinator) Download(remotePath, localPath string) (*TransferTask, error) {
	t, err := c.source.Transport()
	if err != nil {
		return nil, err
	}
	return c.enqueue(t, models.DirectionDownload, localPath, remotePath, 0), nil
}

// Upload starts copying localPath to remotePath. A missing local file fails
// synchronously with ErrLocalFileNotFound.
func (c *Coordinator) Upload(localPath, remotePath string) (*TransferTask, error) {
	t, err := c.source.Transport()
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, &TransferError{Direction: models.DirectionUpload, Path: localPath, Err: ErrLocalFileNotFound, Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &TransferError{Direction: models.DirectionUpload, Path: localPath, Err: ErrLocalFileNotFound,
			Cause: errors.New("not a regular file")}
	}
	return c.enqueue(t, models.DirectionUpload, localPath, remotePath, info.Size()), nil
}

func (c *Coordinator) enqueue(t transport.Transport, dir models.TransferDirection, localPath, remotePath string, size int64) *TransferTask {
	task := newTransferTask(c.generateTaskID(), dir, localPath, remotePath, size)

	c.mu.Lock()
	c.tasks[task.ID] = task
	c.mu.Unlock()

	c.log.Info().
		Str("task_id", task.ID).
		Str("direction", string(dir)).
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("Transfer queued")
	c.publish(events.EventTransferProgress, task)

	c.wg.Add(1)
	go c.run(task, t)
	return task
}

func (c *Coordinator) generateTaskID() string {
	return fmt.Sprintf("task-%d-%d", time.Now().UnixNano(), c.seq.Add(1))
}

func (c *Coordinator) run(task *TransferTask, t transport.Transport) {
	defer c.wg.Done()

	select {
	case c.sem <- struct{}{}:
	case <-task.ctx.Done():
		c.finish(task, task.ctx.Err())
		return
	}
	defer func() { <-c.sem }()

	if task.cancelled() {
		c.finish(task, task.ctx.Err())
		return
	}

	task.start()
	metrics.TransferStarted()
	defer metrics.TransferFinished()

	ctx := task.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if task.Direction == models.DirectionDownload {
		if err := c.prepareDownload(ctx, task, t); err != nil {
			c.finish(task, err)
			return
		}
	}

	req := transport.CopyRequest{
		Direction:  task.Direction,
		LocalPath:  task.LocalPath,
		RemotePath: task.RemotePath,
	}
	err := t.Copy(ctx, req, func(n int64) {
		if pct, ok := task.update(n); ok {
			c.log.Debug().Str("task_id", task.ID).Int("percent", pct).Msg("Transfer progress")
			c.publish(events.EventTransferProgress, task)
		}
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	c.finish(task, err)
}

// prepareDownload sizes the remote file so progress can be reported, then
// checks the destination has room for it. An unknown size is not an error.
func (c *Coordinator) prepareDownload(ctx context.Context, task *TransferTask, t transport.Transport) error {
	sizeCtx, cancel := context.WithTimeout(ctx, constants.RemoteSizeTimeout)
	size, err := t.RemoteSize(sizeCtx, task.RemotePath)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Debug().Err(err).Str("task_id", task.ID).Msg("Remote size unknown, progress limited to completion")
		return nil
	}
	task.setTotal(size)

	if c.noCheck {
		return nil
	}
	return diskspace.CheckAvailableSpace(task.LocalPath, size, constants.DiskSpaceSafetyMargin)
}

// finish moves task to its terminal status and publishes the final event.
func (c *Coordinator) finish(task *TransferTask, err error) {
	defer close(task.done)

	if err == nil {
		task.complete()
		snap := task.Snapshot()
		metrics.RecordTransfer(string(task.Direction), "completed", snap.BytesTotal)
		c.log.Info().
			Str("task_id", task.ID).
			Str("direction", string(task.Direction)).
			Int64("bytes", snap.BytesTotal).
			Dur("elapsed", snap.CompletedAt.Sub(snap.StartedAt)).
			Msg("Transfer completed")
		c.publish(events.EventTransferCompleted, task)
		return
	}

	terr := c.classify(task, err)
	task.fail(terr)

	outcome := "failed"
	switch {
	case errors.Is(terr, ErrTransferCancelled):
		outcome = "cancelled"
	case errors.Is(terr, ErrTransferTimeout):
		outcome = "timeout"
	}
	metrics.RecordTransfer(string(task.Direction), outcome, task.Snapshot().BytesDone)

	c.log.Error().Err(terr).Str("task_id", task.ID).Msg("Transfer failed")
	c.publish(events.EventTransferCompleted, task)
	if c.bus != nil {
		c.bus.PublishError(events.CategoryTransfer, task.ID, terr)
	}
}

func (c *Coordinator) classify(task *TransferTask, err error) *TransferError {
	path := task.RemotePath
	if task.Direction == models.DirectionUpload {
		path = task.LocalPath
	}
	terr := &TransferError{TaskID: task.ID, Direction: task.Direction, Path: path, Err: ErrTransferFailed, Cause: err}

	switch {
	case task.cancelled():
		terr.Err, terr.Cause = ErrTransferCancelled, nil
	case errors.Is(err, context.DeadlineExceeded):
		terr.Err, terr.Cause = ErrTransferTimeout, nil
	case errors.Is(err, context.Canceled):
		terr.Err, terr.Cause = ErrTransferCancelled, nil
	}
	return terr
}

func (c *Coordinator) publish(eventType events.EventType, task *TransferTask) {
	if c.bus == nil {
		return
	}
	snap := task.Snapshot()
	ev := events.NewTransferEvent(eventType)
	ev.TaskID = snap.ID
	ev.Direction = snap.Direction
	ev.LocalPath = snap.LocalPath
	ev.RemotePath = snap.RemotePath
	ev.Percent = snap.Percent
	ev.Status = snap.Status
	ev.BytesDone = snap.BytesDone
	ev.BytesTotal = snap.BytesTotal
	ev.Speed = snap.Speed
	ev.Err = snap.Err
	c.bus.Publish(ev)
}

// Cancel requests cancellation of one task. The task reaches Failed with
// ErrTransferCancelled at its next checkpoint.
func (c *Coordinator) Cancel(taskID string) error {
	c.mu.RLock()
	task, ok := c.tasks[taskID]
	c.mu.RUnlock()
	if !ok {
		return ErrTaskNotFound
	}
	if task.isTerminal() {
		return ErrTaskTerminal
	}
	task.requestCancel()
	return nil
}

// CancelAll requests cancellation of every unfinished task.
func (c *Coordinator) CancelAll() {
	c.mu.RLock()
	var active []*TransferTask
	for _, task := range c.tasks {
		if !task.isTerminal() {
			active = append(active, task)
		}
	}
	c.mu.RUnlock()

	for _, task := range active {
		task.requestCancel()
	}
	if len(active) > 0 {
		c.log.Info().Int("count", len(active)).Msg("Cancelled active transfers")
	}
}

// Task returns a snapshot of one task.
func (c *Coordinator) Task(taskID string) (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return task.Snapshot(), nil
}

// Tasks returns snapshots of all tracked tasks in creation order.
func (c *Coordinator) Tasks() []Snapshot {
	c.mu.RLock()
	out := make([]Snapshot, 0, len(c.tasks))
	for _, task := range c.tasks {
		out = append(out, task.Snapshot())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Acknowledge releases a finished task and returns its final snapshot.
// Tasks are kept until acknowledged so their outcome can be inspected.
func (c *Coordinator) Acknowledge(taskID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	if !task.isTerminal() {
		return Snapshot{}, ErrTaskNotTerminal
	}
	delete(c.tasks, taskID)
	return task.Snapshot(), nil
}

// Stats counts tracked tasks by status.
func (c *Coordinator) Stats() QueueStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s QueueStats
	for _, task := range c.tasks {
		switch task.Status() {
		case models.TransferPending:
			s.Pending++
		case models.TransferRunning:
			s.Running++
		case models.TransferCompleted:
			s.Completed++
		case models.TransferFailed:
			s.Failed++
		}
	}
	return s
}

// Wait blocks until every started task has finished or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all tasks and waits up to timeout for them to stop.
func (c *Coordinator) Close(timeout time.Duration) error {
	c.CancelAll()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Wait(ctx)
}
