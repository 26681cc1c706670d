package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/listing"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/metrics"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/transport"
)

// Command outcomes recorded in metrics
const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
	outcomeDrained = "drained"
)

// CommandQueue runs commands one at a time, in submission order, on a
// single worker goroutine. Every dispatched command produces exactly one
// CommandOutput event; commands discarded by stop produce an Error event
// instead.
type CommandQueue struct {
	transport transport.Transport
	bus       *events.EventBus
	log       *logging.Logger
	parser    *listing.Parser
	timeout   time.Duration

	// onConnectionLost is called on its own goroutine when the transport
	// reports that the connection itself failed.
	onConnectionLost func(error)

	mu       sync.Mutex
	pending  []models.Command
	nextID   uint64
	inFlight bool
	closed   bool
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newCommandQueue(t transport.Transport, bus *events.EventBus, logger *logging.Logger, parser *listing.Parser, timeout time.Duration, onLost func(error)) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &CommandQueue{
		transport:        t,
		bus:              bus,
		log:              logger.WithComponent("commands"),
		parser:           parser,
		timeout:          timeout,
		onConnectionLost: onLost,
		wake:             make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
		done:             make(chan struct{}),
	}
	go q.run()
	return q
}

// submit appends cmd to the FIFO and assigns its ID.
func (q *CommandQueue) submit(cmd models.Command) (models.Command, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return models.Command{}, ErrNotConnected
	}
	q.nextID++
	cmd.ID = q.nextID
	q.pending = append(q.pending, cmd)
	metrics.SetCommandQueueDepth(len(q.pending))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return cmd, nil
}

// Len returns the number of commands waiting, excluding the one in flight.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a command is currently executing.
func (q *CommandQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// stop discards every queued command without running it, then waits up to
// timeout for the in-flight command. A command still running after that is
// cancelled and reported as timed out. stop returns once the worker exited.
func (q *CommandQueue) stop(timeout time.Duration) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	drained := q.pending
	q.pending = nil
	metrics.SetCommandQueueDepth(0)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	for _, cmd := range drained {
		metrics.RecordCommand(outcomeDrained, 0)
		q.bus.PublishError(events.CategoryCommand, cmd.Text, &CommandError{
			Command:  cmd.Text,
			ExitCode: -1,
			Err:      ErrCommandDrained,
			Cause:    "session disconnected",
		})
	}
	if len(drained) > 0 {
		q.log.Info().Int("discarded", len(drained)).Msg("Discarded queued commands")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.done:
	case <-timer.C:
		q.log.Warn().Dur("timeout", timeout).Msg("In-flight command did not finish, terminating it")
		q.cancel()
		<-q.done
	}
	q.cancel()
}

func (q *CommandQueue) run() {
	defer close(q.done)
	for {
		cmd, ok := q.next()
		if !ok {
			return
		}
		q.dispatch(cmd)

		q.mu.Lock()
		q.inFlight = false
		q.mu.Unlock()
	}
}

// next blocks until a command is queued or the queue is stopped.
func (q *CommandQueue) next() (models.Command, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return models.Command{}, false
		}
		if len(q.pending) > 0 {
			cmd := q.pending[0]
			q.pending[0] = models.Command{}
			q.pending = q.pending[1:]
			q.inFlight = true
			metrics.SetCommandQueueDepth(len(q.pending))
			q.mu.Unlock()
			return cmd, true
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *CommandQueue) dispatch(cmd models.Command) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	start := time.Now()
	res, err := q.transport.Run(ctx, commandLine(cmd))
	duration := time.Since(start)

	if err == nil {
		metrics.RecordCommand(outcomeOK, duration)
		q.bus.Publish(events.NewCommandOutputEvent(cmd, res.Stdout, res.ExitCode, duration, nil))
		q.log.Debug().
			Uint64("id", cmd.ID).
			Str("command", cmd.Text).
			Dur("duration", duration).
			Msg("Command completed")

		if listing.IsListingCommand(cmd.Text) && listing.IsListing(res.Stdout) {
			dir := listing.TargetDirectory(cmd.Text, cmd.Directory)
			records := q.parser.Parse(res.Stdout, dir)
			q.bus.Publish(events.NewListingEvent(cmd, dir, records))
		}
		return
	}

	cmdErr, outcome := q.classify(cmd, res, err)
	metrics.RecordCommand(outcome, duration)
	q.bus.Publish(events.NewCommandOutputEvent(cmd, res.Stdout, cmdErr.ExitCode, duration, cmdErr))

	if transport.IsConnectionFailure(err) && q.ctx.Err() == nil && q.onConnectionLost != nil {
		q.log.Warn().Err(err).Str("command", cmd.Text).Msg("Connection lost while running command")
		go q.onConnectionLost(err)
		return
	}

	q.log.Warn().Err(cmdErr).Uint64("id", cmd.ID).Msg("Command failed")
	q.bus.PublishError(events.CategoryCommand, cmd.Text, cmdErr)
}

func (q *CommandQueue) classify(cmd models.Command, res transport.Result, err error) (*CommandError, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &CommandError{
			Command:  cmd.Text,
			ExitCode: -1,
			Err:      ErrCommandTimeout,
			Cause:    fmt.Sprintf("no result within %s", q.timeout),
		}, outcomeTimeout
	}

	var exitErr *transport.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Command:  cmd.Text,
			ExitCode: exitErr.Code,
			Err:      ErrCommandFailed,
			Cause:    exitErr.Error(),
		}, outcomeFailed
	}

	return &CommandError{
		Command:  cmd.Text,
		ExitCode: res.ExitCode,
		Err:      ErrCommandFailed,
		Cause:    err.Error(),
	}, outcomeFailed
}

// commandLine runs the command from its captured directory context.
func commandLine(cmd models.Command) string {
	if cmd.Directory == "" {
		return cmd.Text
	}
	return "cd " + transport.QuotePath(cmd.Directory) + " && " + cmd.Text
}
