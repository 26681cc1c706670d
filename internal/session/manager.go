// Package session owns one remote session: the connection lifecycle, the
// credential, the command worker and the remote file operations built on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/listing"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/metrics"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/transport"
)

// Options configures a Manager.
type Options struct {
	// Factory builds the transport for each connection attempt. Required.
	Factory transport.Factory

	// Bus receives every event. When nil the manager creates one and closes
	// it in Close.
	Bus    *events.EventBus
	Logger *logging.Logger

	ProbeTimeout   time.Duration
	CommandTimeout time.Duration
	DrainTimeout   time.Duration
}

// Manager is the connection manager for a single session. All methods are
// safe for concurrent use.
type Manager struct {
	bus     *events.EventBus
	ownsBus bool
	log     *logging.Logger
	factory transport.Factory
	parser  *listing.Parser

	probeTimeout   time.Duration
	commandTimeout time.Duration
	drainTimeout   time.Duration

	mu              sync.Mutex
	state           models.SessionState
	info            models.ConnectionInfo
	transport       transport.Transport
	queue           *CommandQueue
	currentPath     string
	homePath        string
	generation      uint64
	cancelConnect   context.CancelFunc
	disconnectHooks []func()
}

// NewManager creates a manager in the Disconnected state.
func NewManager(opts Options) *Manager {
	m := &Manager{
		bus:            opts.Bus,
		log:            opts.Logger,
		factory:        opts.Factory,
		parser:         listing.NewParser(),
		probeTimeout:   opts.ProbeTimeout,
		commandTimeout: opts.CommandTimeout,
		drainTimeout:   opts.DrainTimeout,
		state:          models.StateDisconnected,
		currentPath:    constants.InitialRemotePath,
	}
	if m.bus == nil {
		m.bus = events.NewEventBus(constants.EventBusDefaultBuffer)
		m.ownsBus = true
	}
	if m.log == nil {
		m.log = logging.NewDefaultCLILogger()
	}
	m.log = m.log.WithComponent("session")
	if m.probeTimeout <= 0 {
		m.probeTimeout = constants.ProbeTimeout
	}
	if m.commandTimeout <= 0 {
		m.commandTimeout = constants.CommandTimeout
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = constants.DrainTimeout
	}
	return m
}

// Bus returns the event bus the manager publishes to.
func (m *Manager) Bus() *events.EventBus {
	return m.bus
}

// State returns the current session state.
func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Target returns user@host of the current or last connection.
func (m *Manager) Target() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info.Target()
}

// CurrentPath returns the directory last navigated to. It changes only
// through ListDirectory and the Navigate methods.
func (m *Manager) CurrentPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentPath
}

// HomePath returns the login directory reported by the probe, or "" when
// not connected.
func (m *Manager) HomePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.homePath
}

// OnDisconnect registers fn to run after the command queue has drained and
// before the transport is closed, on every disconnect or connection loss.
func (m *Manager) OnDisconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectHooks = append(m.disconnectHooks, fn)
}

// Transport returns the live transport, or ErrNotConnected.
func (m *Manager) Transport() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != models.StateConnected || m.transport == nil {
		return nil, ErrNotConnected
	}
	return m.transport, nil
}

// Connect validates info, then probes the host. It blocks until the probe
// finishes, fails, times out, or is aborted by Disconnect.
//
// Empty host or username fails immediately with a ConnectionError, moving
// the session to Failed before any transport is created. A port outside
// 1-65535 is replaced with 22 and announced with a port_normalized event.
// Connect is rejected with ErrSessionActive while a session is connecting,
// connected or disconnecting.
func (m *Manager) Connect(ctx context.Context, info models.ConnectionInfo) error {
	m.mu.Lock()

	switch m.state {
	case models.StateConnecting, models.StateConnected, models.StateDisconnecting:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrSessionActive, state)
	}

	info = info.Clone()
	info.Host = strings.TrimSpace(info.Host)
	info.Username = strings.TrimSpace(info.Username)

	// The manager keeps the endpoint for display; the credential travels
	// only in info and the transport's own copy.
	m.info = info
	m.info.Credential = nil

	if err := validate(info); err != nil {
		connErr := &ConnectionError{Target: info.Target(), Err: err}
		info.Clear()
		m.setStateLocked(models.StateFailed, connErr.Error())
		m.bus.PublishError(events.CategoryConnection, info.Target(), connErr)
		m.mu.Unlock()
		m.log.Error().Err(connErr).Msg("Rejected connection parameters")
		return connErr
	}

	if info.Port < constants.MinPort || info.Port > constants.MaxPort {
		msg := fmt.Sprintf("port %d is outside %d-%d, using %d", info.Port, constants.MinPort, constants.MaxPort, constants.DefaultSSHPort)
		m.log.Warn().Int("port", info.Port).Int("using", constants.DefaultSSHPort).Msg("Port out of range, normalized")
		m.bus.PublishLifecycle(events.LifecyclePortNormalized, m.state, m.state, info.Target(), msg)
		info.Port = constants.DefaultSSHPort
		m.info.Port = info.Port
	}

	m.generation++
	gen := m.generation
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	m.cancelConnect = cancel
	m.setStateLocked(models.StateConnecting, "")
	m.mu.Unlock()

	m.log.Info().Str("target", info.Target()).Int("port", info.Port).Msg("Connecting")

	t, err := m.factory(info)
	var home string
	if err == nil {
		home, err = t.Probe(probeCtx)
	} else {
		err = fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	info.Clear()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state != models.StateConnecting {
		if t != nil {
			t.Close()
		}
		return &ConnectionError{Target: info.Target(), Err: ErrConnectAborted}
	}
	m.cancelConnect = nil

	if err != nil {
		if t != nil {
			t.Close()
		}
		if !transport.IsConnectionFailure(err) {
			err = fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		connErr := &ConnectionError{Target: info.Target(), Err: err}
		m.setStateLocked(models.StateFailed, connErr.Error())
		m.bus.PublishError(events.CategoryConnection, info.Target(), connErr)
		m.log.Error().Err(err).Str("target", info.Target()).Msg("Connection failed")
		return connErr
	}

	m.transport = t
	m.homePath = home
	m.currentPath = constants.InitialRemotePath
	if home != "" {
		m.currentPath = home
	}
	m.queue = newCommandQueue(t, m.bus, m.log, m.parser, m.commandTimeout, func(err error) {
		m.connectionLost(gen, err)
	})
	m.setStateLocked(models.StateConnected, "")
	return nil
}

// Disconnect is valid from any state. It discards queued commands, waits a
// bounded time for the in-flight one, closes the transport, zeroes the
// credential and ends in Disconnected. It is a no-op when already
// Disconnected or Disconnecting.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == models.StateDisconnected || m.state == models.StateDisconnecting {
		m.mu.Unlock()
		return
	}

	m.generation++
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	m.setStateLocked(models.StateDisconnecting, "")
	queue, t, hooks := m.detachLocked()
	m.mu.Unlock()

	m.teardown(queue, t, hooks)

	m.mu.Lock()
	m.homePath = ""
	m.setStateLocked(models.StateDisconnected, "")
	m.mu.Unlock()
}

// Close disconnects and, if the manager created its own bus, closes it.
func (m *Manager) Close() {
	m.Disconnect()
	if m.ownsBus {
		m.bus.Close()
	}
}

// Submit queues a command for the worker. It fails with ErrNotConnected
// unless the session is Connected. The command runs in the current path;
// its output arrives as a CommandOutput event carrying the returned ID.
func (m *Manager) Submit(text string) (models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitLocked(text, m.currentPath)
}

// QueueLength returns the number of commands waiting for the worker.
func (m *Manager) QueueLength() int {
	m.mu.Lock()
	q := m.queue
	m.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Len()
}

func (m *Manager) submitLocked(text, dir string) (models.Command, error) {
	if m.state != models.StateConnected || m.queue == nil {
		return models.Command{}, ErrNotConnected
	}
	return m.queue.submit(models.Command{
		Text:        text,
		SubmittedAt: time.Now(),
		Directory:   dir,
	})
}

// connectionLost moves a live session to Failed after the transport
// reported a connection failure mid-command.
func (m *Manager) connectionLost(gen uint64, cause error) {
	m.mu.Lock()
	if m.generation != gen || m.state != models.StateConnected {
		m.mu.Unlock()
		return
	}
	m.generation++

	target := m.info.Target()
	connErr := &ConnectionError{Target: target, Err: cause}
	m.setStateLocked(models.StateFailed, connErr.Error())
	m.bus.PublishError(events.CategoryConnection, target, connErr)
	queue, t, hooks := m.detachLocked()
	m.homePath = ""
	m.mu.Unlock()

	m.log.Error().Err(cause).Str("target", target).Msg("Connection lost")
	m.teardown(queue, t, hooks)
}

func (m *Manager) detachLocked() (*CommandQueue, transport.Transport, []func()) {
	queue, t := m.queue, m.transport
	m.queue, m.transport = nil, nil
	hooks := make([]func(), len(m.disconnectHooks))
	copy(hooks, m.disconnectHooks)
	return queue, t, hooks
}

func (m *Manager) teardown(queue *CommandQueue, t transport.Transport, hooks []func()) {
	if queue != nil {
		queue.stop(m.drainTimeout)
	}
	for _, hook := range hooks {
		hook()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			m.log.Warn().Err(err).Msg("Error closing transport")
		}
	}
}

// setStateLocked records a transition and publishes exactly one lifecycle
// event for it. Setting the current state again is not a transition.
func (m *Manager) setStateLocked(next models.SessionState, message string) {
	if m.state == next {
		return
	}
	prev := m.state
	m.state = next

	metrics.RecordSessionTransition(next.String())
	m.bus.PublishLifecycle(lifecycleKind(next), prev, next, m.info.Target(), message)
	m.log.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Str("target", m.info.Target()).
		Msg("Session state changed")
}

func lifecycleKind(state models.SessionState) events.LifecycleKind {
	switch state {
	case models.StateConnecting:
		return events.LifecycleConnecting
	case models.StateConnected:
		return events.LifecycleConnected
	case models.StateDisconnecting:
		return events.LifecycleDisconnecting
	case models.StateFailed:
		return events.LifecycleFailed
	default:
		return events.LifecycleDisconnected
	}
}

func validate(info models.ConnectionInfo) error {
	var missing []string
	if info.Host == "" {
		missing = append(missing, "host")
	}
	if info.Username == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidConnectionInfo, strings.Join(missing, " and "))
	}
	return nil
}

// IsConnectionError reports whether err is a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
