package gpu

import (
	"context"
	"sync"
	"time"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
)

// Guard enforces that at most one task holds the GPU at a time. The
// dispatcher is the sole caller: it acquires before invoking any
// provider's generation path and releases in a defer, the same
// acquire/defer-release discipline internal/coop.Client uses around its
// HTTP round trips, generalized here to a hardware resource instead of a
// network connection. Guard is a plain mutual-exclusion lock: Acquire does
// not check available VRAM.
type Guard struct {
	mu        sync.Mutex
	holder    string
	acquiredAt time.Time
	notify    chan struct{}
}

// NewGuard constructs an unheld Guard.
func NewGuard() *Guard {
	return &Guard{notify: make(chan struct{})}
}

// IsLocked reports whether a task currently holds the GPU.
func (g *Guard) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder != ""
}

// CurrentTaskID returns the task ID holding the GPU, or "" if free.
func (g *Guard) CurrentTaskID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// Acquire blocks until the GPU is free or ctx is cancelled, then claims it
// for taskID. Returns a release function that must be called exactly once.
func (g *Guard) Acquire(ctx context.Context, taskID string) (func(), error) {
	for {
		g.mu.Lock()
		if g.holder == "" {
			g.holder = taskID
			g.acquiredAt = time.Now()
			g.mu.Unlock()
			return g.release(taskID), nil
		}
		wait := g.notify
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, gwerrors.Wrap(gwerrors.CodeTimeout, ctx.Err(), "timed out waiting for GPU")
		}
	}
}

func (g *Guard) release(taskID string) func() {
	return func() {
		g.mu.Lock()
		if g.holder == taskID {
			g.holder = ""
		}
		closed := g.notify
		g.notify = make(chan struct{})
		g.mu.Unlock()
		close(closed)
	}
}

// WaitUntilFree blocks until the GPU has no holder or ctx is cancelled.
func (g *Guard) WaitUntilFree(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.holder == "" {
			g.mu.Unlock()
			return nil
		}
		wait := g.notify
		g.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
