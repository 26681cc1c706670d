//go:build !windows

package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/models"
)

// fakeSSH behaves like ssh for the last argument it receives.
const fakeSSH = `#!/bin/sh
for last; do :; done
case "$last" in
  pwd) echo /home/alice ;;
  fail*) echo "boom" >&2; exit 3 ;;
  refuse*) echo "ssh: connect to host example.com port 22: Connection refused" >&2; exit 255 ;;
  deny*) echo "alice@example.com: Permission denied (publickey)." >&2; exit 255 ;;
  sleep*) sleep 30 ;;
  stat*) echo 42 ;;
  *) echo "ran: $last" ;;
esac
`

// fakeSCP copies the second-to-last argument to the last, stripping a
// user@host: prefix from either side.
const fakeSCP = `#!/bin/sh
n=$#
i=0
for a; do
  i=$((i+1))
  if [ $i -eq $((n-1)) ]; then src=$a; fi
  if [ $i -eq $n ]; then dst=$a; fi
done
src=${src#*@*:}
dst=${dst#*@*:}
cp "$src" "$dst"
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newFakeExec(t *testing.T) *Exec {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		SSHPath:      writeScript(t, dir, "ssh", fakeSSH),
		SCPPath:      writeScript(t, dir, "scp", fakeSCP),
		PollInterval: 20 * time.Millisecond,
	}
	info := models.ConnectionInfo{Host: "example.com", Username: "alice", Port: 2222}
	e := NewExec(info, opts, logging.Nop())
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecArgs(t *testing.T) {
	info := models.ConnectionInfo{Host: "example.com", Username: "alice", Port: 2222, IdentityFile: "/keys/id"}
	e := NewExec(info, Options{ConnectTimeout: 10 * time.Second}, logging.Nop())

	got := strings.Join(e.sshArgs("ls -la '/'"), " ")
	want := "-o ConnectTimeout=10 -o StrictHostKeyChecking=no -o BatchMode=yes -i /keys/id alice@example.com -p 2222 ls -la '/'"
	if got != want {
		t.Errorf("sshArgs =\n  %s\nwant\n  %s", got, want)
	}

	down := strings.Join(e.scpArgs(CopyRequest{Direction: models.DirectionDownload, LocalPath: "/tmp/a", RemotePath: "/srv/a"}), " ")
	if !strings.HasSuffix(down, "-P 2222 alice@example.com:/srv/a /tmp/a") {
		t.Errorf("download scpArgs = %s", down)
	}
	up := strings.Join(e.scpArgs(CopyRequest{Direction: models.DirectionUpload, LocalPath: "/tmp/a", RemotePath: "/srv/a"}), " ")
	if !strings.HasSuffix(up, "-P 2222 /tmp/a alice@example.com:/srv/a") {
		t.Errorf("upload scpArgs = %s", up)
	}
}

func TestExecArgsWithPassword(t *testing.T) {
	info := models.ConnectionInfo{Host: "h", Username: "u", Port: 22, Credential: models.NewSecret("hunter2")}
	e := NewExec(info, Options{StrictHostKeyChecking: true}, logging.Nop())

	args := strings.Join(e.sshArgs("pwd"), " ")
	if strings.Contains(args, "hunter2") {
		t.Fatal("credential must not appear on the command line")
	}
	if strings.Contains(args, "BatchMode") {
		t.Error("BatchMode must not be set when a password is supplied")
	}
	if !strings.Contains(args, "StrictHostKeyChecking=yes") {
		t.Errorf("Expected strict host key checking, got %s", args)
	}
}

func TestExecProbeAndRun(t *testing.T) {
	e := newFakeExec(t)
	ctx := context.Background()

	home, err := e.Probe(ctx)
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if home != "/home/alice" {
		t.Errorf("Probe home = %q", home)
	}

	res, err := e.Run(ctx, "uname -a")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Stdout != "ran: uname -a\n" || res.ExitCode != 0 {
		t.Errorf("Run result = %+v", res)
	}
}

func TestExecRunFailures(t *testing.T) {
	e := newFakeExec(t)
	ctx := context.Background()

	_, err := e.Run(ctx, "fail now")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected *ExitError, got %v", err)
	}
	if exitErr.Code != 3 || exitErr.Stderr != "boom" {
		t.Errorf("ExitError = %+v", exitErr)
	}
	if IsConnectionFailure(err) {
		t.Error("A remote command failure is not a connection failure")
	}

	if _, err := e.Run(ctx, "refuse"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("refused connection = %v, want ErrUnreachable", err)
	}
	if _, err := e.Run(ctx, "deny"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("denied login = %v, want ErrAuthFailed", err)
	}
}

func TestExecRunTimeoutKillsProcess(t *testing.T) {
	e := newFakeExec(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, "sleep")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run returned after %v, process group was not killed", elapsed)
	}
}

func TestExecRemoteSize(t *testing.T) {
	e := newFakeExec(t)
	n, err := e.RemoteSize(context.Background(), "/srv/file")
	if err != nil {
		t.Fatalf("RemoteSize error: %v", err)
	}
	if n != 42 {
		t.Errorf("RemoteSize = %d, want 42", n)
	}
}

func TestExecCopyDownloadReportsProgress(t *testing.T) {
	e := newFakeExec(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "remote.bin")
	dst := filepath.Join(dir, "local.bin")
	if err := os.WriteFile(src, make([]byte, 4096), 0644); err != nil {
		t.Fatal(err)
	}

	var last int64
	err := e.Copy(context.Background(), CopyRequest{
		Direction:  models.DirectionDownload,
		LocalPath:  dst,
		RemotePath: src,
	}, func(n int64) { last = n })
	if err != nil {
		t.Fatalf("Copy error: %v", err)
	}
	if last != 4096 {
		t.Errorf("final progress = %d, want 4096", last)
	}
	if info, err := os.Stat(dst); err != nil || info.Size() != 4096 {
		t.Errorf("destination not copied: %v", err)
	}
}

func TestExecClosed(t *testing.T) {
	e := newFakeExec(t)
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := e.Run(context.Background(), "pwd"); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close = %v, want ErrClosed", err)
	}
}
