package transfer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rescale/remotesh/internal/session"
	"github.com/rescale/remotesh/internal/transport"
)

// fakeTransport scripts Copy: it reports each value in steps, then either
// blocks until release is closed or returns copyErr.
type fakeTransport struct {
	mu      sync.Mutex
	size    int64
	sizeErr error
	steps   []int64
	copyErr error
	release chan struct{}

	copies  int32
	running int32
	peak    int32
	started chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{size: 1000, started: make(chan string, 100)}
}

func (f *fakeTransport) Probe(ctx context.Context) (string, error) { return "/home/alice", nil }

func (f *fakeTransport) Run(ctx context.Context, cmd string) (transport.Result, error) {
	return transport.Result{}, nil
}

func (f *fakeTransport) RemoteSize(ctx context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, f.sizeErr
}

func (f *fakeTransport) Copy(ctx context.Context, req transport.CopyRequest, progress transport.ProgressFunc) error {
	atomic.AddInt32(&f.copies, 1)
	n := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	f.started <- req.RemotePath

	f.mu.Lock()
	steps, copyErr, release := f.steps, f.copyErr, f.release
	f.mu.Unlock()

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress(s)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return copyErr
}

func (f *fakeTransport) Close() error { return nil }

// fakeSource is a session that is either connected to t or not at all.
type fakeSource struct {
	t transport.Transport
}

func (s fakeSource) Transport() (transport.Transport, error) {
	if s.t == nil {
		return nil, session.ErrNotConnected
	}
	return s.t, nil
}
