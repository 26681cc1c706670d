package models

import "time"

// SessionState is the lifecycle state of a remote session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Command is a unit of work for the command worker.
type Command struct {
	// ID is assigned by the queue in submission order, starting at 1.
	ID          uint64
	Text        string
	SubmittedAt time.Time

	// Directory is the remote directory context captured at submission.
	// Listing output produced by this command is resolved against it.
	Directory string
}
