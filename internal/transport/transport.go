// Package transport drives a remote host: command execution, reachability
// probing and single-file copies. Two backends exist: Exec runs the system
// ssh and scp tools, Native speaks SSH and SFTP in-process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/models"
)

// Backend names accepted by New.
const (
	BackendExec   = "exec"
	BackendNative = "native"
)

// Connection-level failures. Errors returned by Probe, and by Run when the
// transport itself (not the remote command) failed, wrap one of these.
var (
	ErrUnreachable = errors.New("remote host unreachable")
	ErrAuthFailed  = errors.New("authentication failed")
	ErrClosed      = errors.New("transport closed")
)

// Result is the captured output of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a non-zero exit status. Its message is the tool's
// standard-error text.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// CopyRequest describes one file copy.
type CopyRequest struct {
	Direction  models.TransferDirection
	LocalPath  string
	RemotePath string
}

// ProgressFunc receives the number of bytes present at the destination so
// far. Values are observed, not estimated.
type ProgressFunc func(bytesDone int64)

// Transport is the boundary between the session core and the remote host.
// Implementations must allow Run and Copy to be called concurrently.
type Transport interface {
	// Probe verifies the host is reachable and the credential accepted. It
	// returns the login directory reported by the host.
	Probe(ctx context.Context) (string, error)

	// Run executes one command and waits for it. A non-zero exit status is
	// returned as *ExitError alongside the captured Result.
	Run(ctx context.Context, command string) (Result, error)

	// Copy transfers one file, reporting progress until it returns.
	Copy(ctx context.Context, req CopyRequest, progress ProgressFunc) error

	// RemoteSize returns the size in bytes of a remote file.
	RemoteSize(ctx context.Context, remotePath string) (int64, error)

	// Close releases the transport and forgets the credential.
	Close() error
}

// Factory builds a transport for one connection attempt.
type Factory func(info models.ConnectionInfo) (Transport, error)

// Options tunes both backends.
type Options struct {
	SSHPath        string
	SCPPath        string
	SSHPassPath    string
	ConnectTimeout time.Duration

	// StrictHostKeyChecking rejects unknown host keys. When false, any key
	// is accepted.
	StrictHostKeyChecking bool

	// PollInterval is how often a running copy samples its destination size.
	PollInterval time.Duration

	// KnownHostsFile is consulted by the native backend when
	// StrictHostKeyChecking is set. Empty means ~/.ssh/known_hosts.
	KnownHostsFile string
}

// NewFactory returns a Factory for the named backend.
func NewFactory(backend string, opts Options, logger *logging.Logger) (Factory, error) {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	switch strings.ToLower(backend) {
	case BackendExec, "":
		return func(info models.ConnectionInfo) (Transport, error) {
			return NewExec(info, opts, logger), nil
		}, nil
	case BackendNative:
		return func(info models.ConnectionInfo) (Transport, error) {
			return NewNative(info, opts, logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", backend)
	}
}

// IsConnectionFailure reports whether err means the transport lost or never
// had a working connection, as opposed to the remote command failing.
func IsConnectionFailure(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrClosed)
}

// QuotePath quotes p for a POSIX shell. A leading "~" or "~/" is left
// unquoted so the remote shell still expands it.
func QuotePath(p string) string {
	switch {
	case p == "~":
		return p
	case strings.HasPrefix(p, "~/"):
		if p == "~/" {
			return p
		}
		return "~/" + quote(p[2:])
	default:
		return quote(p)
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func withDefaults(opts Options) Options {
	if opts.SSHPath == "" {
		opts.SSHPath = "ssh"
	}
	if opts.SCPPath == "" {
		opts.SCPPath = "scp"
	}
	if opts.SSHPassPath == "" {
		opts.SSHPassPath = "sshpass"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = constants.ProbeTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.ProgressUpdateInterval
	}
	return opts
}
