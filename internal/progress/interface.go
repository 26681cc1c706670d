package progress

import (
	"context"
	"io"

	"github.com/rescale/remotesh/internal/events"
)

// Renderer displays transfer progress. Both the multi-bar TransferUI and
// the single-bar CLIProgress implement it.
type Renderer interface {
	// Handle applies one transfer event.
	Handle(ev *events.TransferEvent)

	// Writer returns an io.Writer that safely outputs above the bars.
	Writer() io.Writer

	// Wait blocks until all bars have finished rendering.
	Wait()
}

// Follow feeds transfer events from ch to r until it has seen expected
// terminal events, ch closes, or ctx ends. Other event types are ignored.
// It returns the number of tasks that completed successfully.
func Follow(ctx context.Context, ch <-chan events.Event, r Renderer, expected int) int {
	finished, succeeded := 0, 0
	for finished < expected {
		select {
		case <-ctx.Done():
			return succeeded
		case ev, ok := <-ch:
			if !ok {
				return succeeded
			}
			te, isTransfer := ev.(*events.TransferEvent)
			if !isTransfer {
				continue
			}
			r.Handle(te)
			if te.Type() == events.EventTransferCompleted {
				finished++
				if te.Err == nil {
					succeeded++
				}
			}
		}
	}
	return succeeded
}
