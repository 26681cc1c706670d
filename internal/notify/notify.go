// Package notify raises desktop notifications for finished transfers and
// lost sessions. It uses github.com/gen2brain/beeep for cross-platform
// notification support.
package notify

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/logging"
	"github.com/rescale/remotesh/internal/models"
)

// Notifier turns bus events into desktop notifications.
type Notifier struct {
	logger  *logging.Logger
	cfg     Config
	enabled bool
	mu      sync.RWMutex

	send  func(title, message string) error
	alert func(title, message string) error
}

// Config holds notification configuration.
type Config struct {
	// Enabled determines if notifications are sent.
	Enabled bool

	// ShowTransferComplete notifies on each successful transfer.
	ShowTransferComplete bool

	// ShowTransferFailed notifies on each failed transfer.
	ShowTransferFailed bool

	// ShowSessionLost alerts when the connection fails.
	ShowSessionLost bool
}

// DefaultConfig returns the default notification configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		ShowTransferComplete: true,
		ShowTransferFailed:   true,
		ShowSessionLost:      true,
	}
}

// NewNotifier creates a notifier with the given configuration.
func NewNotifier(cfg *Config, logger *logging.Logger) *Notifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Notifier{
		logger:  logger.WithComponent("notify"),
		cfg:     *cfg,
		enabled: cfg.Enabled,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// Watch handles events from ch until it is closed.
func (n *Notifier) Watch(ch <-chan events.Event) {
	for ev := range ch {
		n.Handle(ev)
	}
}

// Handle reacts to terminal transfer events and session failures; all
// other events are ignored.
func (n *Notifier) Handle(ev events.Event) {
	if !n.IsEnabled() {
		return
	}
	switch e := ev.(type) {
	case *events.TransferEvent:
		if e.Type() != events.EventTransferCompleted {
			return
		}
		if e.Status == models.TransferCompleted {
			n.TransferComplete(e)
		} else {
			n.TransferFailed(e)
		}
	case *events.LifecycleEvent:
		if e.Kind == events.LifecycleFailed {
			n.SessionLost(e.Target, e.Message)
		}
	}
}

// TransferComplete sends a notification for a successful transfer.
func (n *Notifier) TransferComplete(ev *events.TransferEvent) {
	if !n.cfg.ShowTransferComplete {
		return
	}
	title := "Download Complete"
	message := fmt.Sprintf("%s saved to:\n%s", truncate(ev.RemotePath, 40), shortenPath(ev.LocalPath))
	if ev.Direction == models.DirectionUpload {
		title = "Upload Complete"
		message = fmt.Sprintf("%s uploaded to:\n%s", shortenPath(ev.LocalPath), truncate(ev.RemotePath, 60))
	}
	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("task_id", ev.TaskID).Msg("Failed to send transfer complete notification")
	}
}

// TransferFailed sends a notification for a failed transfer.
func (n *Notifier) TransferFailed(ev *events.TransferEvent) {
	if !n.cfg.ShowTransferFailed {
		return
	}
	reason := "unknown error"
	if ev.Err != nil {
		reason = ev.Err.Error()
	}
	title := "Download Failed"
	if ev.Direction == models.DirectionUpload {
		title = "Upload Failed"
	}
	message := fmt.Sprintf("%s:\n%s", truncate(ev.RemotePath, 40), truncate(reason, 100))
	if err := n.send(title, message); err != nil {
		n.logger.Warn().Err(err).Str("task_id", ev.TaskID).Msg("Failed to send transfer failed notification")
	}
}

// SessionLost raises an alert when the connection to target fails.
func (n *Notifier) SessionLost(target, reason string) {
	if !n.cfg.ShowSessionLost {
		return
	}
	title := "remotesh: connection lost"
	message := fmt.Sprintf("%s\n%s", target, truncate(reason, 100))
	if err := n.alert(title, message); err != nil {
		// Fall back to a regular notification
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("target", target).Msg("Failed to send alert notification")
		}
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	parentDir := filepath.Base(filepath.Dir(path))
	short := filepath.Join("...", parentDir, file)

	vol := filepath.VolumeName(path)
	if vol != "" && len(vol)+len(short)+1 <= maxLen {
		short = vol + string(filepath.Separator) + short
	}

	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}
