package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/listing"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/session"
)

// commandResult is what one submitted command produced.
type commandResult struct {
	Output  *events.CommandOutputEvent
	Listing *events.ListingEvent // nil unless the output was a listing
}

// awaitCommand reads ch until the command with id has finished. When the
// command produces a listing it also waits for the parsed records, which
// are published right after the output. A session that fails or
// disconnects first ends the wait with an error.
func awaitCommand(ctx context.Context, ch <-chan events.Event, id uint64) (commandResult, error) {
	var res commandResult
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return res, session.ErrNotConnected
			}
			switch e := ev.(type) {
			case *events.CommandOutputEvent:
				if e.CommandID != id {
					continue
				}
				res.Output = e
				if e.Err != nil {
					return res, e.Err
				}
				if !listing.IsListingCommand(e.Command) || !listing.IsListing(e.Output) {
					return res, nil
				}
			case *events.ListingEvent:
				if e.CommandID == id {
					res.Listing = e
					return res, nil
				}
			case *events.LifecycleEvent:
				if e.Kind == events.LifecycleFailed || e.Kind == events.LifecycleDisconnected {
					return res, fmt.Errorf("%w: session %s: %s", session.ErrNotConnected, e.NewState, e.Message)
				}
			}
		}
	}
}

// printListing writes records in a long-listing layout.
func printListing(w io.Writer, l *events.ListingEvent) {
	fmt.Fprintf(w, "%s (%d entries)\n", l.Directory, len(l.Records))
	for _, r := range l.Records {
		name := r.Name
		switch {
		case r.IsDirectory:
			name += "/"
		case r.LinkTarget != "":
			name += " -> " + r.LinkTarget
		}
		fmt.Fprintf(w, "%-11s %-10s %-10s %12d  %s  %s\n",
			r.Permissions, r.Owner, r.Group, r.SizeBytes, formatModified(r), name)
	}
}

func formatModified(r models.FileRecord) string {
	if r.ModifiedAt.IsZero() {
		return r.RawModified
	}
	return r.ModifiedAt.Format(time.DateTime)
}

// printOutput writes command output, adding a newline if it lacks one.
func printOutput(w io.Writer, out string) {
	if out == "" {
		return
	}
	io.WriteString(w, out)
	if !strings.HasSuffix(out, "\n") {
		io.WriteString(w, "\n")
	}
}
