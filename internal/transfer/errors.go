package transfer

import (
	"errors"
	"fmt"

	"github.com/rescale/remotesh/internal/models"
)

// Transfer errors
var (
	ErrLocalFileNotFound = errors.New("local file not found")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrTransferCancelled = errors.New("transfer cancelled")
	ErrTransferTimeout   = errors.New("transfer timed out")
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskNotTerminal   = errors.New("task has not finished")
	ErrTaskTerminal      = errors.New("task already finished")
)

// TransferError reports why a task failed. It unwraps to both the sentinel
// and the underlying cause, so errors.As can reach a transport.ExitError or
// a diskspace.InsufficientSpaceError.
type TransferError struct {
	TaskID    string
	Direction models.TransferDirection
	Path      string
	Err       error // One of the transfer sentinels
	Cause     error
}

func (e *TransferError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s %s: %v", e.Direction, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Direction, e.Path, e.Err, e.Cause)
}

func (e *TransferError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
