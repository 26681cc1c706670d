package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rescale/remotesh/internal/config"
)

func TestPromptProfile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		check   func(t *testing.T, cfg *config.Profile)
		wantErr error
	}{
		{
			name:  "defaults",
			input: "build01\ndeploy\n\n\n\n\n\n\n",
			check: func(t *testing.T, cfg *config.Profile) {
				if cfg.Connection.Host != "build01" || cfg.Connection.User != "deploy" {
					t.Errorf("connection = %+v", cfg.Connection)
				}
				if cfg.Connection.Port != 22 || cfg.Transport.Backend != config.BackendExec {
					t.Errorf("port = %d backend = %s", cfg.Connection.Port, cfg.Transport.Backend)
				}
			},
		},
		{
			name:  "host retried and values overridden",
			input: "\nbuild02\nops\n2222\n~/.ssh/id_ed25519\nNATIVE\n30\n60\n3\n",
			check: func(t *testing.T, cfg *config.Profile) {
				if cfg.Connection.Host != "build02" || cfg.Connection.Port != 2222 {
					t.Errorf("connection = %+v", cfg.Connection)
				}
				if cfg.Transport.Backend != config.BackendNative {
					t.Errorf("backend = %s, want native", cfg.Transport.Backend)
				}
				if cfg.Transport.ConnectTimeoutSeconds != 30 || cfg.Transport.CommandTimeoutSeconds != 60 {
					t.Errorf("timeouts = %d/%d", cfg.Transport.ConnectTimeoutSeconds, cfg.Transport.CommandTimeoutSeconds)
				}
				if cfg.Transfers.MaxConcurrent != 3 {
					t.Errorf("max concurrent = %d, want 3", cfg.Transfers.MaxConcurrent)
				}
			},
		},
		{
			name:  "non-numeric keeps default",
			input: "h\nu\nabc\n\n\n\n\nmany\n",
			check: func(t *testing.T, cfg *config.Profile) {
				if cfg.Connection.Port != 22 || cfg.Transfers.MaxConcurrent != 5 {
					t.Errorf("port = %d max = %d", cfg.Connection.Port, cfg.Transfers.MaxConcurrent)
				}
			},
		},
		{
			name:    "invalid backend",
			input:   "h\nu\n\n\nrsync\n\n\n\n",
			wantErr: config.ErrInvalidBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cfg, err := promptProfile(bufio.NewReader(strings.NewReader(tt.input)), &out)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("promptProfile failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestPromptProfileRequiresHost(t *testing.T) {
	_, err := promptProfile(bufio.NewReader(strings.NewReader("")), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error when no host is entered")
	}
}

func TestApplyOverrides(t *testing.T) {
	defer func() { host, user, port, backend, identityFile = "", "", 0, "", "" }()

	cfg := config.NewProfile()
	cfg.Connection.Host = "from-file"
	cfg.Connection.User = "file-user"

	host, port, backend = "from-flag", 2200, "Native"
	applyOverrides(cfg)

	if cfg.Connection.Host != "from-flag" || cfg.Connection.User != "file-user" {
		t.Errorf("connection = %+v", cfg.Connection)
	}
	if cfg.Connection.Port != 2200 {
		t.Errorf("port = %d, want 2200", cfg.Connection.Port)
	}
	if cfg.Transport.Backend != config.BackendNative {
		t.Errorf("backend = %s, want native", cfg.Transport.Backend)
	}
}

func TestPrintProfileHidesPassword(t *testing.T) {
	t.Setenv(PasswordEnv, "hunter2")

	var buf bytes.Buffer
	printProfile(&buf, config.NewProfile())

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Error("password printed")
	}
	if !strings.Contains(out, "<set via REMOTESH_PASSWORD>") {
		t.Errorf("output missing password status:\n%s", out)
	}
}
