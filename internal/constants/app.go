// Package constants holds policy values shared across the session, command,
// and transfer layers.
package constants

import (
	"time"
)

// Session policy
const (
	// DefaultSSHPort is used when a profile omits the port or supplies one
	// outside 1-65535.
	DefaultSSHPort = 22

	// MinPort and MaxPort bound a valid TCP port.
	MinPort = 1
	MaxPort = 65535

	// ProbeTimeout bounds the reachability probe run during connect (10s).
	// Passed to ssh as ConnectTimeout and used as the probe deadline.
	ProbeTimeout = 10 * time.Second

	// CommandTimeout bounds a single dispatched command (10s).
	// A command still running at the deadline is killed and reported as failed.
	CommandTimeout = 10 * time.Second

	// DrainTimeout bounds how long disconnect waits for the in-flight command.
	DrainTimeout = 10 * time.Second

	// ProbeCommand is executed remotely to verify the session is reachable.
	// Its output is the login directory, used by NavigateHome.
	ProbeCommand = "pwd"

	// InitialRemotePath is the directory context before any navigation.
	InitialRemotePath = "/"

	// HomeRemotePath is what NavigateHome switches to when the probe did
	// not report a login directory.
	HomeRemotePath = "~"
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for subscriber channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000

	// DroppedEventWarnEvery - log a warning once per this many dropped events
	DroppedEventWarnEvery = 100
)

// Transfers
const (
	// DefaultMaxConcurrent - default number of transfers allowed to run at once
	DefaultMaxConcurrent = 5

	// MinMaxConcurrent - minimum concurrent transfers (sequential mode)
	MinMaxConcurrent = 1

	// MaxMaxConcurrent - maximum concurrent transfers allowed
	MaxMaxConcurrent = 10

	// ProgressUpdateInterval - how often a running transfer samples its byte count (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// RemoteSizeTimeout bounds the remote stat used to size a download or poll an upload.
	RemoteSizeTimeout = 5 * time.Second

	// SpeedSmoothingAge is the EWMA age used for transfer speed (samples).
	SpeedSmoothingAge = 10
)

// Disk space safety margin
const (
	// DiskSpaceSafetyMargin - multiplier applied to a download's size before
	// checking free space (15% buffer)
	DiskSpaceSafetyMargin = 1.15
)

// Configuration
const (
	// MinTimeoutSeconds and MaxTimeoutSeconds bound the configurable timeouts.
	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 3600

	// MinProgressIntervalMs and MaxProgressIntervalMs bound the progress sample interval.
	MinProgressIntervalMs = 50
	MaxProgressIntervalMs = 10000
)
