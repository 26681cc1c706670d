package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rescale/remotesh/internal/events"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/session"
)

const lsOutput = `total 8
drwxr-xr-x 2 alice staff 4096 Jan 10 12:00 src
lrwxrwxrwx 1 alice staff    9 Jan 10 12:00 cur -> releases/3
`

func TestAwaitCommand(t *testing.T) {
	ls := models.Command{ID: 2, Text: "ls -la '/srv'", Directory: "/srv"}
	pwd := models.Command{ID: 3, Text: "pwd", Directory: "/srv"}
	failure := &session.CommandError{Command: "false", ExitCode: 1, Err: session.ErrCommandFailed}

	tests := []struct {
		name        string
		id          uint64
		events      []events.Event
		wantOutput  string
		wantListing bool
		wantErr     error
	}{
		{
			name: "plain command skips other ids",
			id:   3,
			events: []events.Event{
				events.NewCommandOutputEvent(models.Command{ID: 1, Text: "id"}, "uid=1000", 0, 0, nil),
				events.NewCommandOutputEvent(pwd, "/srv\n", 0, 0, nil),
			},
			wantOutput: "/srv\n",
		},
		{
			name: "listing waits for records",
			id:   2,
			events: []events.Event{
				events.NewCommandOutputEvent(ls, lsOutput, 0, 0, nil),
				events.NewListingEvent(ls, "/srv", []models.FileRecord{{Name: "src"}}),
			},
			wantOutput:  lsOutput,
			wantListing: true,
		},
		{
			name: "ls without summary line",
			id:   2,
			events: []events.Event{
				events.NewCommandOutputEvent(ls, "/srv/file.txt\n", 0, 0, nil),
			},
			wantOutput: "/srv/file.txt\n",
		},
		{
			name: "command failure",
			id:   4,
			events: []events.Event{
				events.NewCommandOutputEvent(models.Command{ID: 4, Text: "false"}, "", 1, 0, failure),
			},
			wantErr: session.ErrCommandFailed,
		},
		{
			name: "session failure",
			id:   5,
			events: []events.Event{
				&events.LifecycleEvent{Kind: events.LifecycleFailed, NewState: models.StateFailed, Message: "connection lost"},
			},
			wantErr: session.ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan events.Event, len(tt.events))
			for _, ev := range tt.events {
				ch <- ev
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			res, err := awaitCommand(ctx, ch, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("awaitCommand failed: %v", err)
			}
			if res.Output == nil || res.Output.Output != tt.wantOutput {
				t.Errorf("output = %+v, want %q", res.Output, tt.wantOutput)
			}
			if (res.Listing != nil) != tt.wantListing {
				t.Errorf("listing = %v, want present %v", res.Listing, tt.wantListing)
			}
		})
	}
}

func TestAwaitCommandContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := awaitCommand(ctx, make(chan events.Event), 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPrintListing(t *testing.T) {
	l := events.NewListingEvent(models.Command{ID: 1}, "/srv", []models.FileRecord{
		{Name: "src", Permissions: "drwxr-xr-x", Owner: "alice", Group: "staff", SizeBytes: 4096, IsDirectory: true, RawModified: "Jan 10 12:00"},
		{Name: "cur", Permissions: "lrwxrwxrwx", Owner: "alice", Group: "staff", SizeBytes: 9, LinkTarget: "releases/3", RawModified: "Jan 10 12:00"},
	})

	var buf bytes.Buffer
	printListing(&buf, l)
	out := buf.String()

	for _, want := range []string{"/srv (2 entries)", "src/", "cur -> releases/3", "Jan 10 12:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintOutput(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"hello", "hello\n"},
		{"hello\n", "hello\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		printOutput(&buf, tt.in)
		if buf.String() != tt.want {
			t.Errorf("printOutput(%q) = %q, want %q", tt.in, buf.String(), tt.want)
		}
	}
}
