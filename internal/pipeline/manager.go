package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrShuttingDown rejects enqueues after shutdown began.
	ErrShuttingDown = errors.New("shutting_down")

	// ErrQueueFull rejects enqueues when the bounded queue is saturated.
	ErrQueueFull = errors.New("queue_full")
)

// RunFunc executes one full pipeline run. The Manager records state
// around it; onStage lets the run report stage transitions.
type RunFunc func(ctx context.Context, runID, source string, onStage func(stage string)) (Results, error)

type job struct {
	id     string
	source string
}

// Manager owns a worker pool draining a bounded queue of pipeline runs.
type Manager struct {
	jobs    chan job
	wg      sync.WaitGroup
	closing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	registry *RunRegistry
	run      RunFunc
	hooks    Hooks
}

// ManagerOptions configures the Manager.
type ManagerOptions struct {
	Workers  int
	QueueCap int
	Hooks    Hooks
}

// NewManager starts the worker pool. run executes each dequeued job.
func NewManager(run RunFunc, opts ManagerOptions) *Manager {
	workers := opts.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 1)
	}
	queueCap := opts.QueueCap
	if queueCap <= 0 {
		queueCap = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		jobs:     make(chan job, queueCap),
		ctx:      ctx,
		cancel:   cancel,
		registry: NewRunRegistry(queueCap * 2),
		run:      run,
		hooks:    opts.Hooks,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// StopAccepting stops queueing new jobs; Enqueue fails afterwards.
func (m *Manager) StopAccepting() {
	m.closing.Store(true)
}

// Shutdown lets in-flight runs finish, then stops the workers. Safe to
// call once.
func (m *Manager) Shutdown() {
	m.closing.Store(true)
	close(m.jobs)
	m.wg.Wait()
	m.cancel()
}

// Kill cancels in-flight runs and stops the workers.
func (m *Manager) Kill() {
	m.closing.Store(true)
	m.cancel()
	close(m.jobs)
	m.wg.Wait()
}

// Enqueue queues a new source and returns the assigned run ID.
func (m *Manager) Enqueue(source string) (string, error) {
	if m.closing.Load() {
		return "", ErrShuttingDown
	}
	id := uuid.NewString()
	if _, err := m.registry.Create(id, source); err != nil {
		return "", err
	}

	select {
	case m.jobs <- job{id: id, source: source}:
		return id, nil
	default:
		m.registry.Delete(id)
		return "", ErrQueueFull
	}
}

// Snapshot returns copies of the tracked runs; a non-empty id narrows
// the result to that run.
func (m *Manager) Snapshot(id string) []*Run {
	return m.registry.Snapshot(id)
}

// QueueDepth reports how many jobs are waiting, and the queue capacity.
func (m *Manager) QueueDepth() (int, int) {
	return len(m.jobs), cap(m.jobs)
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for j := range m.jobs {
		m.setState(j.id, StateRunning, "")

		onStage := func(stage string) {
			_ = m.registry.Update(j.id, func(r *Run) {
				r.Stage = stage
				r.Progress = 0
			})
			if m.hooks != nil {
				go m.hooks.OnStage(j.id, stage)
			}
		}

		results, err := m.run(m.ctx, j.id, j.source, onStage)
		for _, artifact := range results.Artifacts() {
			m.addArtifact(j.id, artifact)
		}
		if err != nil {
			m.setState(j.id, StateFailed, err.Error())
		} else {
			m.setProgress(j.id, 100)
			m.setState(j.id, StateCompleted, "")
		}
	}
}

// SetProgress records stage progress for a run (0-100).
func (m *Manager) SetProgress(id string, pct float64) {
	m.setProgress(id, pct)
}

func (m *Manager) setProgress(id string, pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_ = m.registry.Update(id, func(r *Run) { r.Progress = pct })
	if m.hooks != nil {
		go m.hooks.OnProgress(id, pct)
	}
}

func (m *Manager) setState(id string, state State, errMsg string) {
	_ = m.registry.Update(id, func(r *Run) {
		r.State = state
		r.Error = errMsg
	})
	if m.hooks != nil {
		go m.hooks.OnStateChange(id, state, errMsg)
	}
}

func (m *Manager) addArtifact(id, path string) {
	_ = m.registry.Update(id, func(r *Run) {
		for _, p := range r.Artifacts {
			if p == path {
				return
			}
		}
		r.Artifacts = append(r.Artifacts, path)
	})
	if m.hooks != nil {
		go m.hooks.OnArtifact(id, path)
	}
}
