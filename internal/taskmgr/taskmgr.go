// Package taskmgr supervises the goroutines spawned by the gateway's
// runtime loop, and bridges synchronous call sites (the strategy-facing
// proxy) onto that loop.
package taskmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrBlocked is returned by RunSync when it is invoked from the same
// goroutine that owns the TaskManager's runtime loop — waiting there would
// deadlock, since nothing else could ever drive that loop forward.
var ErrBlocked = errors.New("taskmgr: RunSync called from the runtime goroutine")

type runtimeMarkerKey struct{}

// RuntimeContext tags ctx as belonging to the single-threaded runtime loop.
// Every context derived from the returned context (via context.WithValue's
// propagation) carries the marker, so RunSync can detect reentrant calls
// without needing real goroutine identity.
func RuntimeContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, runtimeMarkerKey{}, true)
}

// onRuntimeGoroutine reports whether ctx descends from a RuntimeContext.
func onRuntimeGoroutine(ctx context.Context) bool {
	v, _ := ctx.Value(runtimeMarkerKey{}).(bool)
	return v
}

// Handle represents one tracked task.
type Handle struct {
	done chan struct{}
	err  atomic.Pointer[error]
}

// Wait blocks until this task completes and returns its error, if any.
func (h *Handle) Wait() error {
	<-h.done
	if p := h.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Manager supervises a group of goroutines sharing one cancellation context.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context

	mu      sync.Mutex
	handles []*Handle
}

// New constructs a Manager whose tasks are all cancelled together when
// Cancel is called or parent is cancelled.
func New(parent context.Context) *Manager {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Manager{ctx: ctx, cancel: cancel, group: g, gctx: gctx}
}

// CreateTask spawns fn in a new goroutine tracked by the Manager. The
// returned Handle's error, once fn returns, is also what causes Wait (on the
// Manager) to return early alongside every other tracked task's context
// being cancelled — errgroup semantics.
func (m *Manager) CreateTask(fn func(ctx context.Context) error) *Handle {
	h := &Handle{done: make(chan struct{})}

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()

	m.group.Go(func() error {
		defer close(h.done)
		err := fn(m.gctx)
		if err != nil {
			h.err.Store(&err)
		}
		return err
	})
	return h
}

// Wait blocks until every tracked task has completed, and returns the first
// non-nil error, if any, matching errgroup.Group.Wait semantics.
func (m *Manager) Wait() error {
	return m.group.Wait()
}

// Cancel cancels every tracked task's context and blocks until they have
// all observed it and returned.
func (m *Manager) Cancel() error {
	m.cancel()
	return m.group.Wait()
}

// Context returns the context tasks spawned by CreateTask run under.
func (m *Manager) Context() context.Context {
	return m.gctx
}

// RunSync bridges a synchronous call site onto the managed runtime: it
// spawns fn as a tracked task and blocks until fn's result or ctx is
// cancelled, whichever comes first. It returns ErrBlocked immediately,
// without spawning anything, if ctx descends from RuntimeContext — that
// means the call site is already running on the runtime loop, the only
// thing that could ever make fn progress, so waiting here would hang
// forever.
func RunSync[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if onRuntimeGoroutine(ctx) {
		return zero, ErrBlocked
	}

	resultCh := make(chan T, 1)
	errCh := make(chan error, 1)
	m.CreateTask(func(taskCtx context.Context) error {
		v, err := fn(taskCtx)
		if err != nil {
			errCh <- err
			return err
		}
		resultCh <- v
		return nil
	})

	select {
	case v := <-resultCh:
		return v, nil
	case err := <-errCh:
		return zero, err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
