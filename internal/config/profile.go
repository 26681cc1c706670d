// Package config provides configuration management for remotesh.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/remotesh/internal/constants"
)

// Backend names accepted in [transport] backend.
const (
	BackendExec   = "exec"   // Drive the ssh/scp command-line tools
	BackendNative = "native" // In-process SSH + SFTP
)

// Profile is a remote session profile.
//
// Config file location:
//   - Windows: %APPDATA%\remotesh\remotesh.conf
//   - Unix: ~/.config/remotesh/remotesh.conf
//
// INI format:
//
//	[connection]
//	host = build01.example.com
//	user = deploy
//	port = 22
//	identity_file = ~/.ssh/id_ed25519
//
//	[transport]
//	backend = exec
//	ssh_path = ssh
//	scp_path = scp
//	sshpass_path = sshpass
//	connect_timeout_seconds = 10
//	command_timeout_seconds = 10
//	progress_interval_ms = 250
//	strict_host_key_checking = false
//
//	[transfers]
//	max_concurrent = 5
//
//	[events]
//	buffer_size = 1000
//
// The password is deliberately absent: it is read from REMOTESH_PASSWORD or
// prompted for, and never written to disk.
type Profile struct {
	Connection ConnectionConfig
	Transport  TransportConfig
	Transfers  TransfersConfig
	Events     EventsConfig
}

// ConnectionConfig identifies the remote endpoint.
type ConnectionConfig struct {
	Host         string
	User         string
	Port         int
	IdentityFile string
}

// TransportConfig selects and tunes the transport backend.
type TransportConfig struct {
	Backend               string
	SSHPath               string
	SCPPath               string
	SSHPassPath           string
	ConnectTimeoutSeconds int
	CommandTimeoutSeconds int
	ProgressIntervalMs    int

	// StrictHostKeyChecking maps to ssh's StrictHostKeyChecking option.
	// Default false, matching the behaviour of the original tool.
	StrictHostKeyChecking bool
}

// TransfersConfig bounds transfer concurrency.
type TransfersConfig struct {
	MaxConcurrent int
}

// EventsConfig tunes the notifier.
type EventsConfig struct {
	BufferSize int
}

// Profile validation errors
var (
	ErrInvalidBackend          = errors.New("backend must be \"exec\" or \"native\"")
	ErrInvalidConnectTimeout   = fmt.Errorf("connect_timeout_seconds must be between %d and %d", constants.MinTimeoutSeconds, constants.MaxTimeoutSeconds)
	ErrInvalidCommandTimeout   = fmt.Errorf("command_timeout_seconds must be between %d and %d", constants.MinTimeoutSeconds, constants.MaxTimeoutSeconds)
	ErrInvalidProgressInterval = fmt.Errorf("progress_interval_ms must be between %d and %d", constants.MinProgressIntervalMs, constants.MaxProgressIntervalMs)
	ErrInvalidMaxConcurrent    = fmt.Errorf("max_concurrent must be between %d and %d", constants.MinMaxConcurrent, constants.MaxMaxConcurrent)
	ErrMissingToolPath         = errors.New("ssh_path and scp_path are required for the exec backend")
)

// DefaultProfilePath returns the default path for remotesh.conf.
func DefaultProfilePath() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "remotesh", "remotesh.conf"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "remotesh", "remotesh.conf"), nil
}

// NewProfile creates a Profile with default values.
func NewProfile() *Profile {
	return &Profile{
		Connection: ConnectionConfig{
			Port: constants.DefaultSSHPort,
		},
		Transport: TransportConfig{
			Backend:               BackendExec,
			SSHPath:               "ssh",
			SCPPath:               "scp",
			SSHPassPath:           "sshpass",
			ConnectTimeoutSeconds: int(constants.ProbeTimeout / time.Second),
			CommandTimeoutSeconds: int(constants.CommandTimeout / time.Second),
			ProgressIntervalMs:    int(constants.ProgressUpdateInterval / time.Millisecond),
		},
		Transfers: TransfersConfig{
			MaxConcurrent: constants.DefaultMaxConcurrent,
		},
		Events: EventsConfig{
			BufferSize: constants.EventBusDefaultBuffer,
		},
	}
}

// LoadProfile loads a profile from path.
// If path is empty, uses the default path.
// If the file doesn't exist, returns defaults and no error.
// If the file exists but cannot be parsed, returns an error.
func LoadProfile(path string) (*Profile, error) {
	cfg := NewProfile()

	if path == "" {
		var err error
		path, err = DefaultProfilePath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	conn := iniFile.Section("connection")
	cfg.Connection.Host = strings.TrimSpace(conn.Key("host").String())
	cfg.Connection.User = strings.TrimSpace(conn.Key("user").String())
	cfg.Connection.Port = conn.Key("port").MustInt(constants.DefaultSSHPort)
	cfg.Connection.IdentityFile = expandHome(conn.Key("identity_file").String())

	tr := iniFile.Section("transport")
	cfg.Transport.Backend = strings.ToLower(tr.Key("backend").MustString(BackendExec))
	cfg.Transport.SSHPath = tr.Key("ssh_path").MustString("ssh")
	cfg.Transport.SCPPath = tr.Key("scp_path").MustString("scp")
	cfg.Transport.SSHPassPath = tr.Key("sshpass_path").MustString("sshpass")
	cfg.Transport.ConnectTimeoutSeconds = tr.Key("connect_timeout_seconds").MustInt(cfg.Transport.ConnectTimeoutSeconds)
	cfg.Transport.CommandTimeoutSeconds = tr.Key("command_timeout_seconds").MustInt(cfg.Transport.CommandTimeoutSeconds)
	cfg.Transport.ProgressIntervalMs = tr.Key("progress_interval_ms").MustInt(cfg.Transport.ProgressIntervalMs)
	cfg.Transport.StrictHostKeyChecking = tr.Key("strict_host_key_checking").MustBool(false)

	cfg.Transfers.MaxConcurrent = iniFile.Section("transfers").Key("max_concurrent").MustInt(constants.DefaultMaxConcurrent)
	cfg.Events.BufferSize = iniFile.Section("events").Key("buffer_size").MustInt(constants.EventBusDefaultBuffer)

	return cfg, nil
}

// SaveProfile saves cfg to path with user-only permissions.
// If path is empty, uses the default path.
func SaveProfile(cfg *Profile, path string) error {
	if path == "" {
		var err error
		path, err = DefaultProfilePath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	conn, err := iniFile.NewSection("connection")
	if err != nil {
		return fmt.Errorf("failed to create connection section: %w", err)
	}
	conn.Key("host").SetValue(cfg.Connection.Host)
	conn.Key("user").SetValue(cfg.Connection.User)
	conn.Key("port").SetValue(fmt.Sprintf("%d", cfg.Connection.Port))
	conn.Key("identity_file").SetValue(cfg.Connection.IdentityFile)

	tr, err := iniFile.NewSection("transport")
	if err != nil {
		return fmt.Errorf("failed to create transport section: %w", err)
	}
	tr.Key("backend").SetValue(cfg.Transport.Backend)
	tr.Key("ssh_path").SetValue(cfg.Transport.SSHPath)
	tr.Key("scp_path").SetValue(cfg.Transport.SCPPath)
	tr.Key("sshpass_path").SetValue(cfg.Transport.SSHPassPath)
	tr.Key("connect_timeout_seconds").SetValue(fmt.Sprintf("%d", cfg.Transport.ConnectTimeoutSeconds))
	tr.Key("command_timeout_seconds").SetValue(fmt.Sprintf("%d", cfg.Transport.CommandTimeoutSeconds))
	tr.Key("progress_interval_ms").SetValue(fmt.Sprintf("%d", cfg.Transport.ProgressIntervalMs))
	tr.Key("strict_host_key_checking").SetValue(fmt.Sprintf("%t", cfg.Transport.StrictHostKeyChecking))

	transfers, err := iniFile.NewSection("transfers")
	if err != nil {
		return fmt.Errorf("failed to create transfers section: %w", err)
	}
	transfers.Key("max_concurrent").SetValue(fmt.Sprintf("%d", cfg.Transfers.MaxConcurrent))

	ev, err := iniFile.NewSection("events")
	if err != nil {
		return fmt.Errorf("failed to create events section: %w", err)
	}
	ev.Key("buffer_size").SetValue(fmt.Sprintf("%d", cfg.Events.BufferSize))

	// Temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the profile. Host, user and port are not checked here:
// they may come from flags, and connect applies its own checks and port
// normalization.
func (cfg *Profile) Validate() error {
	switch cfg.Transport.Backend {
	case BackendExec:
		if strings.TrimSpace(cfg.Transport.SSHPath) == "" || strings.TrimSpace(cfg.Transport.SCPPath) == "" {
			return ErrMissingToolPath
		}
	case BackendNative:
	default:
		return ErrInvalidBackend
	}
	if !inRange(cfg.Transport.ConnectTimeoutSeconds, constants.MinTimeoutSeconds, constants.MaxTimeoutSeconds) {
		return ErrInvalidConnectTimeout
	}
	if !inRange(cfg.Transport.CommandTimeoutSeconds, constants.MinTimeoutSeconds, constants.MaxTimeoutSeconds) {
		return ErrInvalidCommandTimeout
	}
	if !inRange(cfg.Transport.ProgressIntervalMs, constants.MinProgressIntervalMs, constants.MaxProgressIntervalMs) {
		return ErrInvalidProgressInterval
	}
	if !inRange(cfg.Transfers.MaxConcurrent, constants.MinMaxConcurrent, constants.MaxMaxConcurrent) {
		return ErrInvalidMaxConcurrent
	}
	return nil
}

// ConnectTimeout returns the probe timeout as a duration.
func (cfg *Profile) ConnectTimeout() time.Duration {
	return time.Duration(cfg.Transport.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the per-command timeout as a duration.
func (cfg *Profile) CommandTimeout() time.Duration {
	return time.Duration(cfg.Transport.CommandTimeoutSeconds) * time.Second
}

// ProgressInterval returns the transfer sample interval as a duration.
func (cfg *Profile) ProgressInterval() time.Duration {
	return time.Duration(cfg.Transport.ProgressIntervalMs) * time.Millisecond
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
