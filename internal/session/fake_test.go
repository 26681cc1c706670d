package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/transport"
)

// fakeResponse scripts the transport's answer to one command.
type fakeResponse struct {
	stdout string
	err    error
	delay  time.Duration
	block  chan struct{} // Run waits for close (or cancellation)
}

// fakeTransport stands in for ssh. Commands are matched on their text with
// the working-directory prefix removed.
type fakeTransport struct {
	mu         sync.Mutex
	info       models.ConnectionInfo
	home       string
	probeErr   error
	probeBlock chan struct{}
	responses  map[string]fakeResponse
	ran        []string
	lines      []string
	closed     bool

	running    int32
	maxRunning int32
	started    chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		home:      "/home/alice",
		responses: make(map[string]fakeResponse),
		started:   make(chan string, 100),
	}
}

func (f *fakeTransport) respond(text string, r fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[text] = r
}

func (f *fakeTransport) Probe(ctx context.Context) (string, error) {
	if f.probeBlock != nil {
		select {
		case <-f.probeBlock:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.home, f.probeErr
}

func (f *fakeTransport) Run(ctx context.Context, line string) (transport.Result, error) {
	text := line
	if strings.HasPrefix(line, "cd ") {
		if i := strings.Index(line, " && "); i >= 0 {
			text = line[i+4:]
		}
	}

	n := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		peak := atomic.LoadInt32(&f.maxRunning)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxRunning, peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.ran = append(f.ran, text)
	f.lines = append(f.lines, line)
	resp, ok := f.responses[text]
	f.mu.Unlock()
	f.started <- text

	if !ok {
		return transport.Result{Stdout: "ran: " + text + "\n"}, nil
	}
	if resp.block != nil {
		select {
		case <-resp.block:
		case <-ctx.Done():
			return transport.Result{ExitCode: -1}, ctx.Err()
		}
	}
	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-ctx.Done():
			return transport.Result{ExitCode: -1}, ctx.Err()
		}
	}
	res := transport.Result{Stdout: resp.stdout}
	if ee, ok := resp.err.(*transport.ExitError); ok {
		res.ExitCode = ee.Code
		res.Stderr = ee.Stderr
	}
	return res, resp.err
}

func (f *fakeTransport) Copy(ctx context.Context, req transport.CopyRequest, progress transport.ProgressFunc) error {
	return nil
}

func (f *fakeTransport) RemoteSize(ctx context.Context, remotePath string) (int64, error) {
	return 0, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.info.Clear()
	return nil
}

func (f *fakeTransport) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// factoryFor returns a factory that hands out f and records how many times
// it was called and with what.
func factoryFor(f *fakeTransport, calls *int32) transport.Factory {
	return func(info models.ConnectionInfo) (transport.Transport, error) {
		atomic.AddInt32(calls, 1)
		f.mu.Lock()
		f.info = info.Clone()
		f.mu.Unlock()
		return f, nil
	}
}
