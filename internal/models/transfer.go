package models

// TransferDirection indicates whether a task is an upload or download.
type TransferDirection string

const (
	DirectionUpload   TransferDirection = "upload"
	DirectionDownload TransferDirection = "download"
)

// TransferStatus represents the current state of a transfer task.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"   // Waiting for a concurrency slot
	TransferRunning   TransferStatus = "running"   // Transport is moving bytes
	TransferCompleted TransferStatus = "completed" // Finished successfully
	TransferFailed    TransferStatus = "failed"    // Failed, timed out or cancelled
)

// IsTerminal reports whether no further transitions are possible.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferFailed
}
