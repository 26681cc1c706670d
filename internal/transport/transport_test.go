package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/models"
)

func TestQuotePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/", "'/'"},
		{"/home/user", "'/home/user'"},
		{"/tmp/it's here", `'/tmp/it'\''s here'`},
		{"~", "~"},
		{"~/", "~/"},
		{"~/docs/a b", "~/'docs/a b'"},
		{"~user", "'~user'"},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := QuotePath(tt.in); got != tt.want {
			t.Errorf("QuotePath(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{Code: 2, Stderr: "ls: cannot access '/nope': No such file or directory"}
	if err.Error() != "ls: cannot access '/nope': No such file or directory" {
		t.Errorf("Error() = %q", err.Error())
	}
	if (&ExitError{Code: 7}).Error() != "exit status 7" {
		t.Errorf("Error() without stderr = %q", (&ExitError{Code: 7}).Error())
	}
}

func TestIsConnectionFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: refused", ErrUnreachable), true},
		{fmt.Errorf("%w: %w", ErrAuthFailed, &ExitError{Code: 255}), true},
		{ErrClosed, true},
		{&ExitError{Code: 1}, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		if got := IsConnectionFailure(tt.err); got != tt.want {
			t.Errorf("IsConnectionFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewFactory(t *testing.T) {
	info := models.ConnectionInfo{Host: "example.com", Username: "alice", Port: 22}

	for _, backend := range []string{"", "exec", "EXEC"} {
		f, err := NewFactory(backend, Options{}, logging.Nop())
		if err != nil {
			t.Fatalf("NewFactory(%q) error: %v", backend, err)
		}
		tr, _ := f(info)
		if _, ok := tr.(*Exec); !ok {
			t.Errorf("NewFactory(%q) built %T, want *Exec", backend, tr)
		}
	}

	f, err := NewFactory("native", Options{}, logging.Nop())
	if err != nil {
		t.Fatalf("NewFactory(native) error: %v", err)
	}
	tr, _ := f(info)
	if _, ok := tr.(*Native); !ok {
		t.Errorf("NewFactory(native) built %T, want *Native", tr)
	}

	if _, err := NewFactory("telnet", Options{}, logging.Nop()); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNativeNotConnected(t *testing.T) {
	n := NewNative(models.ConnectionInfo{Host: "h", Username: "u", Port: 22}, Options{}, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if _, err := n.RemoteSize(ctx, "/x"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("RemoteSize before Probe = %v, want ErrUnreachable", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := n.Run(ctx, "pwd"); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close = %v, want ErrClosed", err)
	}
}

func TestNativeAuthMethods(t *testing.T) {
	n := NewNative(models.ConnectionInfo{}, Options{}, logging.Nop())

	methods, err := n.authMethods(models.ConnectionInfo{Credential: models.NewSecret("pw")})
	if err != nil {
		t.Fatalf("authMethods error: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("Expected password and keyboard-interactive methods, got %d", len(methods))
	}

	_, err = n.authMethods(models.ConnectionInfo{IdentityFile: "/nonexistent/key"})
	if err == nil {
		t.Error("Expected error for unreadable identity file")
	}
}
