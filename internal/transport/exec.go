package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/models"
)

// sshpass exit statuses
const (
	sshpassWrongPassword  = 5
	sshpassHostKeyUnknown = 6
)

// ssh exits 255 when it fails itself rather than relaying a remote status.
const sshFailureStatus = 255

// waitDelay bounds how long Wait blocks on output pipes after a kill.
const waitDelay = 2 * time.Second

var sshFailureMarkers = []string{
	"ssh:",
	"Connection refused",
	"Connection timed out",
	"Connection closed",
	"Connection reset",
	"Could not resolve hostname",
	"No route to host",
	"Host key verification failed",
	"kex_exchange_identification",
}

// Exec drives the system ssh and scp tools. A password credential is handed
// to sshpass through the SSHPASS environment variable, never on argv.
// Without a credential ssh runs in batch mode and relies on key auth.
type Exec struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	info    models.ConnectionInfo
	closed  bool
	running map[*exec.Cmd]struct{}
}

// NewExec creates an exec backend. The connection info is copied.
func NewExec(info models.ConnectionInfo, opts Options, logger *logging.Logger) *Exec {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return &Exec{
		opts:    withDefaults(opts),
		log:     logger.WithComponent("transport.exec"),
		info:    info.Clone(),
		running: make(map[*exec.Cmd]struct{}),
	}
}

// Probe runs the probe command and returns the remote login directory.
func (e *Exec) Probe(ctx context.Context) (string, error) {
	res, err := e.Run(ctx, constants.ProbeCommand)
	if err != nil {
		return "", probeError(ctx, err)
	}
	return lastLine(res.Stdout), nil
}

// Run executes command through ssh.
func (e *Exec) Run(ctx context.Context, command string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd, err := e.start(ctx, e.opts.SSHPath, func() []string { return e.sshArgs(command) }, &stdout, &stderr)
	if err != nil {
		return Result{}, err
	}

	waitErr := cmd.Wait()
	e.untrack(cmd)

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if waitErr != nil {
		return res, e.classify(waitErr, res)
	}
	return res, nil
}

// RemoteSize stats a remote file through ssh.
func (e *Exec) RemoteSize(ctx context.Context, remotePath string) (int64, error) {
	res, err := e.Run(ctx, "stat -c %s "+QuotePath(remotePath))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected stat output %q: %w", strings.TrimSpace(res.Stdout), err)
	}
	return size, nil
}

// Copy runs scp and samples the destination size every PollInterval: the
// local file for downloads, a remote stat for uploads.
func (e *Exec) Copy(ctx context.Context, req CopyRequest, progress ProgressFunc) error {
	var stderr bytes.Buffer
	cmd, err := e.start(ctx, e.opts.SCPPath, func() []string { return e.scpArgs(req) }, nil, &stderr)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-done:
			e.untrack(cmd)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if waitErr != nil {
				return e.classify(waitErr, Result{
					Stderr:   strings.TrimSpace(stderr.String()),
					ExitCode: cmd.ProcessState.ExitCode(),
				})
			}
			if progress != nil {
				if n, ok := e.sample(ctx, req); ok {
					progress(n)
				}
			}
			return nil

		case <-ticker.C:
			if progress == nil {
				continue
			}
			if n, ok := e.sample(ctx, req); ok {
				progress(n)
			}
		}
	}
}

// Close kills any running ssh or scp processes and forgets the credential.
func (e *Exec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for cmd := range e.running {
		if err := terminate(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			e.log.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("Failed to kill process group")
		}
	}
	e.info.Clear()
	return nil
}

func (e *Exec) sample(ctx context.Context, req CopyRequest) (int64, bool) {
	if req.Direction == models.DirectionDownload {
		info, err := os.Stat(req.LocalPath)
		if err != nil {
			return 0, false
		}
		return info.Size(), true
	}

	sizeCtx, cancel := context.WithTimeout(ctx, constants.RemoteSizeTimeout)
	defer cancel()
	n, err := e.RemoteSize(sizeCtx, req.RemotePath)
	if err != nil {
		return 0, false
	}
	return n, true
}

// start builds and starts a process while holding the lock, so Close cannot
// clear the credential between building the environment and starting.
func (e *Exec) start(ctx context.Context, tool string, args func() []string, stdout, stderr *bytes.Buffer) (*exec.Cmd, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	var cmd *exec.Cmd
	if e.info.Credential.IsEmpty() {
		cmd = exec.CommandContext(ctx, tool, args()...)
	} else {
		cmd = exec.CommandContext(ctx, e.opts.SSHPassPath, append([]string{"-e", tool}, args()...)...)
		cmd.Env = append(os.Environ(), "SSHPASS="+e.info.Credential.Reveal())
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: cannot start %s: %v", ErrUnreachable, cmd.Path, err)
	}
	e.running[cmd] = struct{}{}

	e.log.Debug().
		Str("tool", tool).
		Str("target", e.info.Target()).
		Int("pid", cmd.Process.Pid).
		Msg("Started transport process")

	return cmd, nil
}

func (e *Exec) untrack(cmd *exec.Cmd) {
	e.mu.Lock()
	delete(e.running, cmd)
	e.mu.Unlock()
}

func (e *Exec) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Exec) usesPassword() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.info.Credential.IsEmpty()
}

// commonOptions are shared by ssh and scp. Callers hold e.mu.
func (e *Exec) commonOptions() []string {
	timeout := int(e.opts.ConnectTimeout / time.Second)
	if timeout < 1 {
		timeout = 1
	}
	strict := "no"
	if e.opts.StrictHostKeyChecking {
		strict = "yes"
	}

	opts := []string{
		"-o", "ConnectTimeout=" + strconv.Itoa(timeout),
		"-o", "StrictHostKeyChecking=" + strict,
	}
	if e.info.Credential.IsEmpty() {
		opts = append(opts, "-o", "BatchMode=yes")
	} else {
		opts = append(opts, "-o", "NumberOfPasswordPrompts=1")
	}
	if e.info.IdentityFile != "" {
		opts = append(opts, "-i", e.info.IdentityFile)
	}
	return opts
}

func (e *Exec) sshArgs(command string) []string {
	args := e.commonOptions()
	return append(args, e.info.Target(), "-p", strconv.Itoa(e.info.Port), command)
}

func (e *Exec) scpArgs(req CopyRequest) []string {
	args := append(e.commonOptions(), "-P", strconv.Itoa(e.info.Port))
	remote := e.info.Target() + ":" + req.RemotePath
	if req.Direction == models.DirectionDownload {
		return append(args, remote, req.LocalPath)
	}
	return append(args, req.LocalPath, remote)
}

// classify maps a failed process to an ExitError, wrapped with a connection
// sentinel when the failure came from ssh itself.
func (e *Exec) classify(waitErr error, res Result) error {
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, waitErr)
	}

	ee := &ExitError{Code: exitErr.ExitCode(), Stderr: res.Stderr}
	switch {
	case e.isClosed():
		return fmt.Errorf("%w: %w", ErrClosed, ee)
	case e.usesPassword() && ee.Code == sshpassWrongPassword:
		if ee.Stderr == "" {
			ee.Stderr = "password rejected"
		}
		return fmt.Errorf("%w: %w", ErrAuthFailed, ee)
	case e.usesPassword() && ee.Code == sshpassHostKeyUnknown:
		if ee.Stderr == "" {
			ee.Stderr = "host public key is unknown"
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, ee)
	case ee.Code == sshFailureStatus && strings.Contains(ee.Stderr, "Permission denied"):
		return fmt.Errorf("%w: %w", ErrAuthFailed, ee)
	case ee.Code == sshFailureStatus && isSSHFailure(ee.Stderr):
		return fmt.Errorf("%w: %w", ErrUnreachable, ee)
	}
	return ee
}

func isSSHFailure(stderr string) bool {
	for _, marker := range sshFailureMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// probeError makes sure a probe failure always carries a connection sentinel.
func probeError(ctx context.Context, err error) error {
	switch {
	case IsConnectionFailure(err):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: no response before the probe deadline", ErrUnreachable)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
	default:
		return fmt.Errorf("%w: probe failed: %w", ErrUnreachable, err)
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
