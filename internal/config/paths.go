package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// LogDirectory returns the directory remotesh writes log files to.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\remotesh\logs
//   - Unix: ~/.config/remotesh/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "remotesh-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "remotesh", "logs")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "remotesh-logs")
		}
		return filepath.Join(homeDir, ".config", "remotesh", "logs")
	}
	return filepath.Join(configDir, "remotesh", "logs")
}

// DefaultLogPath returns the log file used when --log-file is given without
// a value. The directory is created with owner-only permissions.
func DefaultLogPath() (string, error) {
	dir := LogDirectory()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotesh.log"), nil
}
