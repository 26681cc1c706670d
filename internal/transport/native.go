package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/models"
)

const copyBufferSize = 32 * 1024

// defaultIdentityFiles are tried, in order, when no credential or identity
// file is configured.
var defaultIdentityFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Native speaks SSH in-process and copies files over SFTP, so progress is
// counted byte by byte instead of polled.
type Native struct {
	opts Options
	log  *logging.Logger

	mu     sync.Mutex
	info   models.ConnectionInfo
	client *ssh.Client
	sftp   *sftp.Client
	closed bool
}

// NewNative creates a native backend. No connection is made until Probe.
func NewNative(info models.ConnectionInfo, opts Options, logger *logging.Logger) *Native {
	if logger == nil {
		logger = logging.NewDefaultCLILogger()
	}
	return &Native{
		opts: withDefaults(opts),
		log:  logger.WithComponent("transport.native"),
		info: info.Clone(),
	}
}

// Probe dials the host, authenticates and runs the probe command.
func (n *Native) Probe(ctx context.Context) (string, error) {
	client, err := n.dial(ctx)
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		client.Close()
		return "", ErrClosed
	}
	if n.client != nil {
		n.client.Close()
	}
	n.client = client
	n.mu.Unlock()

	res, err := n.Run(ctx, constants.ProbeCommand)
	if err != nil {
		return "", probeError(ctx, err)
	}
	return lastLine(res.Stdout), nil
}

// Run opens a session, runs command and waits for it. On cancellation the
// remote process is signalled and the session closed.
func (n *Native) Run(ctx context.Context, command string) (Result, error) {
	client, err := n.currentClient()
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: open session: %v", ErrUnreachable, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return Result{}, fmt.Errorf("%w: start command: %v", ErrUnreachable, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return Result{Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String()), ExitCode: -1}, ctx.Err()
	}

	res := Result{Stdout: stdout.String(), Stderr: strings.TrimSpace(stderr.String())}
	if waitErr == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, &ExitError{Code: res.ExitCode, Stderr: res.Stderr}
	}

	res.ExitCode = -1
	if n.isClosed() {
		return res, fmt.Errorf("%w: %v", ErrClosed, waitErr)
	}
	return res, fmt.Errorf("%w: %v", ErrUnreachable, waitErr)
}

// Copy transfers one file over SFTP. Cancellation is checked between chunks.
func (n *Native) Copy(ctx context.Context, req CopyRequest, progress ProgressFunc) error {
	client, err := n.sftpClient()
	if err != nil {
		return err
	}

	var (
		src io.ReadCloser
		dst io.WriteCloser
	)
	if req.Direction == models.DirectionDownload {
		remote, err := client.Open(req.RemotePath)
		if err != nil {
			return fmt.Errorf("open remote %s: %w", req.RemotePath, err)
		}
		local, err := os.Create(req.LocalPath)
		if err != nil {
			remote.Close()
			return fmt.Errorf("create local %s: %w", req.LocalPath, err)
		}
		src, dst = remote, local
	} else {
		local, err := os.Open(req.LocalPath)
		if err != nil {
			return fmt.Errorf("open local %s: %w", req.LocalPath, err)
		}
		remote, err := client.OpenFile(req.RemotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			local.Close()
			return fmt.Errorf("create remote %s: %w", req.RemotePath, err)
		}
		src, dst = local, remote
	}
	defer src.Close()

	if err := n.copyChunks(ctx, dst, src, progress); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", req.RemotePath, err)
	}
	return nil
}

// RemoteSize stats a remote file over SFTP.
func (n *Native) RemoteSize(ctx context.Context, remotePath string) (int64, error) {
	client, err := n.sftpClient()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := client.Stat(remotePath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	return info.Size(), nil
}

// Close closes the SFTP and SSH clients and forgets the credential.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	if n.sftp != nil {
		if err := n.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
		n.sftp = nil
	}
	if n.client != nil {
		if err := n.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		n.client = nil
	}
	n.info.Clear()
	return errors.Join(errs...)
}

func (n *Native) copyChunks(ctx context.Context, dst io.Writer, src io.Reader, progress ProgressFunc) error {
	buf := make([]byte, copyBufferSize)
	var done int64
	lastReport := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			done += int64(nw)
			if writeErr != nil {
				return fmt.Errorf("write: %w", writeErr)
			}
			if nw != nr {
				return fmt.Errorf("write: %w", io.ErrShortWrite)
			}
			if progress != nil && time.Since(lastReport) >= n.opts.PollInterval {
				progress(done)
				lastReport = time.Now()
			}
		}
		if readErr == io.EOF {
			if progress != nil {
				progress(done)
			}
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

func (n *Native) dial(ctx context.Context) (*ssh.Client, error) {
	n.mu.Lock()
	info := n.info.Clone()
	n.mu.Unlock()
	defer info.Clear()

	auth, err := n.authMethods(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	hostKeys, err := n.hostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	config := &ssh.ClientConfig{
		User:            info.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         n.opts.ConnectTimeout,
	}

	addr := info.Address()
	dialer := net.Dialer{Timeout: n.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	_ = conn.SetDeadline(time.Time{})

	n.log.Debug().Str("target", info.Target()).Str("addr", addr).Msg("SSH connection established")
	return ssh.NewClient(c, chans, reqs), nil
}

func (n *Native) authMethods(info models.ConnectionInfo) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if info.IdentityFile != "" {
		signer, err := loadSigner(info.IdentityFile, info.Credential)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if !info.Credential.IsEmpty() {
		password := info.Credential.Reveal()
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		home, err := os.UserHomeDir()
		if err == nil {
			for _, name := range defaultIdentityFiles {
				signer, err := loadSigner(filepath.Join(home, ".ssh", name), nil)
				if err == nil {
					methods = append(methods, ssh.PublicKeys(signer))
				}
			}
		}
	}

	if len(methods) == 0 {
		return nil, errors.New("no password, identity file or default key available")
	}
	return methods, nil
}

func loadSigner(path string, passphrase models.Secret) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && !passphrase.IsEmpty() {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return signer, nil
}

func (n *Native) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !n.opts.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := n.opts.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

func (n *Native) currentClient() (*ssh.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	if n.client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrUnreachable)
	}
	return n.client, nil
}

func (n *Native) sftpClient() (*sftp.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	if n.client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrUnreachable)
	}
	if n.sftp == nil {
		client, err := sftp.NewClient(n.client)
		if err != nil {
			return nil, fmt.Errorf("%w: start sftp: %v", ErrUnreachable, err)
		}
		n.sftp = client
	}
	return n.sftp, nil
}

func (n *Native) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
