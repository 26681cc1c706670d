package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewProfile(t *testing.T) {
	cfg := NewProfile()

	if cfg.Connection.Port != 22 {
		t.Errorf("Expected Port=22, got %d", cfg.Connection.Port)
	}
	if cfg.Transport.Backend != BackendExec {
		t.Errorf("Expected Backend=exec, got %s", cfg.Transport.Backend)
	}
	if cfg.Transport.ConnectTimeoutSeconds != 10 {
		t.Errorf("Expected ConnectTimeoutSeconds=10, got %d", cfg.Transport.ConnectTimeoutSeconds)
	}
	if cfg.Transfers.MaxConcurrent != 5 {
		t.Errorf("Expected MaxConcurrent=5, got %d", cfg.Transfers.MaxConcurrent)
	}
	if cfg.ConnectTimeout() != 10*time.Second {
		t.Errorf("Expected ConnectTimeout()=10s, got %v", cfg.ConnectTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate, got %v", err)
	}
}

func TestProfileLoadSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "remotesh.conf")

	cfg := NewProfile()
	cfg.Connection.Host = "build01.example.com"
	cfg.Connection.User = "deploy"
	cfg.Connection.Port = 2222
	cfg.Connection.IdentityFile = "/keys/id_ed25519"
	cfg.Transport.Backend = BackendNative
	cfg.Transport.CommandTimeoutSeconds = 30
	cfg.Transport.ProgressIntervalMs = 500
	cfg.Transport.StrictHostKeyChecking = true
	cfg.Transfers.MaxConcurrent = 3
	cfg.Events.BufferSize = 200

	if err := SaveProfile(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
	if info.Mode().Perm()&0077 != 0 && os.PathSeparator == '/' {
		t.Errorf("Config should be user-only, got %v", info.Mode().Perm())
	}

	loaded, err := LoadProfile(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if *loaded != *cfg {
		t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", *loaded, *cfg)
	}
}

func TestLoadProfileMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadProfile(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("Expected no error for missing file, got %v", err)
	}
	if *cfg != *NewProfile() {
		t.Errorf("Expected defaults, got %+v", *cfg)
	}
}

func TestLoadProfilePartialFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "remotesh.conf")
	content := "[connection]\nhost = 10.0.0.5\nuser = root\n\n[transport]\nbackend = NATIVE\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadProfile(configPath)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if cfg.Connection.Host != "10.0.0.5" || cfg.Connection.User != "root" {
		t.Errorf("Unexpected connection: %+v", cfg.Connection)
	}
	if cfg.Connection.Port != 22 {
		t.Errorf("Expected default port, got %d", cfg.Connection.Port)
	}
	if cfg.Transport.Backend != BackendNative {
		t.Errorf("Expected backend lowercased to native, got %s", cfg.Transport.Backend)
	}
	if cfg.Transport.SSHPath != "ssh" {
		t.Errorf("Expected default ssh path, got %s", cfg.Transport.SSHPath)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
		want   error
	}{
		{"unknown backend", func(p *Profile) { p.Transport.Backend = "telnet" }, ErrInvalidBackend},
		{"out of range port is left to connect", func(p *Profile) { p.Connection.Port = 70000 }, nil},
		{"connect timeout", func(p *Profile) { p.Transport.ConnectTimeoutSeconds = 0 }, ErrInvalidConnectTimeout},
		{"command timeout", func(p *Profile) { p.Transport.CommandTimeoutSeconds = 4000 }, ErrInvalidCommandTimeout},
		{"progress interval", func(p *Profile) { p.Transport.ProgressIntervalMs = 1 }, ErrInvalidProgressInterval},
		{"max concurrent", func(p *Profile) { p.Transfers.MaxConcurrent = 11 }, ErrInvalidMaxConcurrent},
		{"missing ssh path", func(p *Profile) { p.Transport.SSHPath = " " }, ErrMissingToolPath},
		{"native ignores tool paths", func(p *Profile) {
			p.Transport.Backend = BackendNative
			p.Transport.SSHPath = ""
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewProfile()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLogDirectoryUnderConfig(t *testing.T) {
	dir := LogDirectory()
	if filepath.Base(dir) != "logs" {
		t.Errorf("LogDirectory() = %q, want a logs directory", dir)
	}
	if !strings.Contains(dir, "remotesh") {
		t.Errorf("LogDirectory() = %q, want it scoped to remotesh", dir)
	}
}
