// Package events is the process-wide notification channel between the
// session core and its observers (CLI renderers, GUIs, loggers).
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/metrics"
	"github.com/rescale/remotesh/internal/models"
)

// EventType defines the categories of events that can be emitted
type EventType string

const (
	EventLifecycle         EventType = "lifecycle"          // Session state transitions and navigation
	EventCommandOutput     EventType = "command_output"     // Raw output (or error) of one command
	EventListing           EventType = "listing"            // Parsed directory listing
	EventTransferProgress  EventType = "transfer_progress"  // Percentage update for one task
	EventTransferCompleted EventType = "transfer_completed" // Terminal status of one task
	EventError             EventType = "error"              // Any reported failure
	EventLog               EventType = "log"                // Mirrored warnings from the logger
)

// LifecycleKind distinguishes lifecycle events.
type LifecycleKind string

const (
	LifecycleConnecting       LifecycleKind = "connecting"
	LifecycleConnected        LifecycleKind = "connected"
	LifecycleDisconnecting    LifecycleKind = "disconnecting"
	LifecycleDisconnected     LifecycleKind = "disconnected"
	LifecycleFailed           LifecycleKind = "failed"
	LifecyclePortNormalized   LifecycleKind = "port_normalized"
	LifecycleDirectoryChanged LifecycleKind = "directory_changed"
)

// ErrorCategory mirrors the error taxonomy.
type ErrorCategory string

const (
	CategoryConnection ErrorCategory = "connection"
	CategoryCommand    ErrorCategory = "command"
	CategoryTransfer   ErrorCategory = "transfer"
)

// LogLevel defines log severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// LifecycleEvent reports a session state transition, a port normalization,
// or a change of the current remote directory.
type LifecycleEvent struct {
	BaseEvent
	Kind     LifecycleKind
	OldState models.SessionState
	NewState models.SessionState
	Target   string // user@host
	Path     string // Set for directory_changed
	Message  string
}

// CommandOutputEvent carries the result of exactly one dispatched command.
type CommandOutputEvent struct {
	BaseEvent
	CommandID   uint64
	Command     string
	SubmittedAt time.Time
	Output      string
	ExitCode    int
	Duration    time.Duration
	Err         error // Non-nil when the command failed or timed out
}

// ListingEvent carries records parsed from a command's listing output.
type ListingEvent struct {
	BaseEvent
	CommandID uint64
	Command   string
	Directory string
	Records   []models.FileRecord
}

// TransferEvent reports progress or the terminal status of one task.
type TransferEvent struct {
	BaseEvent
	TaskID     string
	Direction  models.TransferDirection
	LocalPath  string
	RemotePath string
	Percent    int
	Status     models.TransferStatus
	BytesDone  int64
	BytesTotal int64
	Speed      float64 // bytes/sec
	Err        error
}

// ErrorEvent represents a failure surfaced to observers.
type ErrorEvent struct {
	BaseEvent
	Category ErrorCategory
	Source   string // Command text, task ID or target
	Cause    string // Human-readable cause
	Err      error
}

// LogEvent represents a mirrored log message
type LogEvent struct {
	BaseEvent
	Level     LogLevel
	Component string
	Message   string
	Err       error
}

// EventBus manages event subscriptions and publishing.
// Publish never blocks: each subscriber owns a bounded buffer, and an event
// that does not fit is dropped for that subscriber only and counted.
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
	onDrop        func(dropped int64, event Event)
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// SetDropHandler registers a callback invoked every
// constants.DroppedEventWarnEvery drops. Used by the logger to warn about
// subscribers that fall behind.
func (eb *EventBus) SetDropHandler(fn func(dropped int64, event Event)) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.onDrop = fn
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// Events from a single publishing goroutine reach every subscriber in the
// order they were published.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		eb.send(ch, event)
	}
	for _, ch := range eb.all {
		eb.send(ch, event)
	}
}

func (eb *EventBus) send(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		dropped := eb.droppedEvents.Add(1)
		metrics.RecordDroppedEvent(string(event.Type()))
		if eb.onDrop != nil && dropped%constants.DroppedEventWarnEvery == 1 {
			eb.onDrop(dropped, event)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
	eb.subscribers = make(map[EventType][]chan Event)
	eb.all = nil
}

// IsClosed reports whether Close has been called.
func (eb *EventBus) IsClosed() bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.closed
}

// Unsubscribe removes and closes a subscription channel. It works for
// channels returned by both Subscribe and SubscribeAll.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
				close(subCh)
				return
			}
		}
	}
	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all = append(eb.all[:i], eb.all[i+1:]...)
			close(subCh)
			return
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishLifecycle is a convenience method for publishing lifecycle events
func (eb *EventBus) PublishLifecycle(kind LifecycleKind, oldState, newState models.SessionState, target, message string) {
	eb.Publish(&LifecycleEvent{
		BaseEvent: newBase(EventLifecycle),
		Kind:      kind,
		OldState:  oldState,
		NewState:  newState,
		Target:    target,
		Message:   message,
	})
}

// PublishDirectoryChanged announces a new current remote directory.
func (eb *EventBus) PublishDirectoryChanged(state models.SessionState, target, path string) {
	eb.Publish(&LifecycleEvent{
		BaseEvent: newBase(EventLifecycle),
		Kind:      LifecycleDirectoryChanged,
		OldState:  state,
		NewState:  state,
		Target:    target,
		Path:      path,
	})
}

// PublishError is a convenience method for publishing error events
func (eb *EventBus) PublishError(category ErrorCategory, source string, err error) {
	cause := "unknown error"
	if err != nil {
		cause = err.Error()
	}
	eb.Publish(&ErrorEvent{
		BaseEvent: newBase(EventError),
		Category:  category,
		Source:    source,
		Cause:     cause,
		Err:       err,
	})
}

// PublishLog is a convenience method for publishing log events
func (eb *EventBus) PublishLog(level LogLevel, component, message string, err error) {
	eb.Publish(&LogEvent{
		BaseEvent: newBase(EventLog),
		Level:     level,
		Component: component,
		Message:   message,
		Err:       err,
	})
}

// NewCommandOutputEvent builds a command output event stamped now.
func NewCommandOutputEvent(cmd models.Command, output string, exitCode int, duration time.Duration, err error) *CommandOutputEvent {
	return &CommandOutputEvent{
		BaseEvent:   newBase(EventCommandOutput),
		CommandID:   cmd.ID,
		Command:     cmd.Text,
		SubmittedAt: cmd.SubmittedAt,
		Output:      output,
		ExitCode:    exitCode,
		Duration:    duration,
		Err:         err,
	}
}

// NewListingEvent builds a listing event stamped now. directory is the
// context the records were resolved against.
func NewListingEvent(cmd models.Command, directory string, records []models.FileRecord) *ListingEvent {
	return &ListingEvent{
		BaseEvent: newBase(EventListing),
		CommandID: cmd.ID,
		Command:   cmd.Text,
		Directory: directory,
		Records:   records,
	}
}

// NewTransferEvent builds a transfer event of the given type stamped now.
func NewTransferEvent(eventType EventType) *TransferEvent {
	return &TransferEvent{BaseEvent: newBase(eventType)}
}
