package session

import (
	"errors"
	"fmt"

	"github.com/rescale/remotesh/internal/transport"
)

// Connection errors
var (
	ErrNotConnected          = errors.New("session is not connected")
	ErrInvalidConnectionInfo = errors.New("invalid connection parameters")
	ErrSessionActive         = errors.New("session already active")
	ErrConnectAborted        = errors.New("connection attempt aborted by disconnect")
	ErrUnreachable           = transport.ErrUnreachable
	ErrAuthFailed            = transport.ErrAuthFailed
)

// Command errors
var (
	ErrCommandFailed  = errors.New("command failed")
	ErrCommandTimeout = errors.New("command timed out")
	ErrCommandDrained = errors.New("command discarded before dispatch")
)

// ConnectionError reports a failed connect or a lost connection. It always
// accompanies a transition to Failed.
type ConnectionError struct {
	Target string
	Err    error // Wraps one of the connection sentinels
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a command that did not complete successfully. It
// never changes the session state.
type CommandError struct {
	Command  string
	ExitCode int
	Err      error // One of the command sentinels
	Cause    string
}

func (e *CommandError) Error() string {
	if e.Cause == "" {
		return fmt.Sprintf("%q: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%q: %v: %s", e.Command, e.Err, e.Cause)
}

func (e *CommandError) Unwrap() error { return e.Err }
