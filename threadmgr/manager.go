// Package threadmgr implements the thread-manager interface consumed
// by the quiescence detector and the local stop machine: a pool of
// cooperative tasks multiplexed over OS goroutines, with live counts
// kept in atomic counters and suspended tasks tracked under a mutex.
package threadmgr

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
)

// Task is a unit of work submitted to the manager. AbortAllSuspendedThreads
// releases a task from any SuspendUntil it is parked in; the context the
// task itself receives is not canceled by it.
type Task func(ctx context.Context)

// Manager runs foreground and background tasks on a bounded worker
// pool and tracks enough bookkeeping to answer the quiescence
// detector's questions: how many tasks are live, how many of those are
// background housekeeping, and how to forcibly wake tasks parked on an
// indefinite suspension.
type Manager struct {
	p *pool.ContextPool

	liveTasks atomic.Int64
	background atomic.Int64

	mu        sync.Mutex
	nextID    uint64
	suspended map[uint64]context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewManager builds a thread manager backed by a worker pool capped at
// maxWorkers concurrent goroutines. maxWorkers <= 0 means unbounded.
func NewManager(maxWorkers int) *Manager {
	base := pool.New()
	if maxWorkers > 0 {
		base = base.WithMaxGoroutines(maxWorkers)
	}
	p := base.WithContext(context.Background())
	return &Manager{
		p:         p,
		suspended: make(map[uint64]context.CancelFunc),
		done:      make(chan struct{}),
	}
}

// Spawn submits a foreground task, counted by GetThreadCount.
func (m *Manager) Spawn(t Task) {
	m.spawn(t, &m.liveTasks)
}

// SpawnBackground submits a housekeeping task, counted by both
// GetThreadCount and GetBackgroundThreadCount so it never blocks
// quiescence.
func (m *Manager) SpawnBackground(t Task) {
	m.background.Add(1)
	m.spawn(func(ctx context.Context) {
		defer m.background.Add(-1)
		t(ctx)
	}, &m.liveTasks)
}

func (m *Manager) spawn(t Task, counter *atomic.Int64) {
	counter.Add(1)
	m.wg.Add(1)
	m.p.Go(func(ctx context.Context) error {
		defer m.wg.Done()
		defer counter.Add(-1)
		t(ctx)
		return nil
	})
}

// SuspendUntil registers the calling task as indefinitely suspended
// awaiting cond, returning when cond unblocks or when the task is
// force-resumed by AbortAllSuspendedThreads. It mirrors the behavior of
// a task parked on a condition variable that the runtime can coerce out
// of during a timed-out local stop.
func (m *Manager) SuspendUntil(ctx context.Context, cond <-chan struct{}) {
	suspendCtx, cancel := context.WithCancel(ctx)
	id := m.registerSuspended(cancel)
	defer m.unregisterSuspended(id)

	select {
	case <-cond:
	case <-suspendCtx.Done():
	}
}

func (m *Manager) registerSuspended(cancel context.CancelFunc) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.suspended[id] = cancel
	return id
}

func (m *Manager) unregisterSuspended(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suspended, id)
}

// CleanupTerminated reaps finished tasks. The pool already removes
// slots as goroutines return, so this does nothing; it exists to
// satisfy the consumed interface.
func (m *Manager) CleanupTerminated(full bool) {
	// The pool's goroutines self-retire; nothing to reap explicitly.
	_ = full
}

// GetThreadCount returns the number of currently live tasks (foreground
// and background).
func (m *Manager) GetThreadCount() int {
	return int(m.liveTasks.Load())
}

// GetBackgroundThreadCount returns the number of live tasks spawned via
// SpawnBackground.
func (m *Manager) GetBackgroundThreadCount() int {
	return int(m.background.Load())
}

// AbortAllSuspendedThreads force-cancels every task currently parked in
// SuspendUntil, returning how many were aborted. Called repeatedly by
// the local stop machine's timeout-coercion loop.
func (m *Manager) AbortAllSuspendedThreads() int {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.suspended))
	for id, cancel := range m.suspended {
		cancels = append(cancels, cancel)
		delete(m.suspended, id)
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Resume is a no-op placeholder for the consumed "resume any parked
// worker threads" call the shutdown orchestrator issues before starting
// termination detection; this pool never parks OS threads, only tasks.
func (m *Manager) Resume() {}

// Wait blocks until every submitted task has returned. Used by tests
// and by the local stop machine to detect that the pool has drained.
func (m *Manager) Wait() {
	m.wg.Wait()
}
