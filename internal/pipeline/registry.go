package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle of one pipeline run.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Run is the in-memory view of one trip through the pipeline.
type Run struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Stage    string  `json:"stage,omitempty"` // download|extract|transcribe|analyze
	Progress float64 `json:"progress"`        // 0-100 within the current stage
	State    State   `json:"state"`
	Error    string  `json:"error,omitempty"`

	Artifacts []string `json:"artifacts,omitempty"`

	startedAt time.Time
	updatedAt time.Time
}

// RunRegistry is thread-safe storage for run state. It is a pure state
// container; the Manager owns all pipeline logic.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunRegistry creates a registry with the given initial capacity.
func NewRunRegistry(capacity int) *RunRegistry {
	if capacity <= 0 {
		capacity = 128
	}
	return &RunRegistry{runs: make(map[string]*Run, capacity)}
}

// Create adds a new queued run. Fails when the ID is already present.
func (r *RunRegistry) Create(id, source string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[id]; exists {
		return nil, fmt.Errorf("run %s already exists", id)
	}
	run := &Run{
		ID:        id,
		Source:    source,
		State:     StateQueued,
		startedAt: time.Now(),
		updatedAt: time.Now(),
	}
	r.runs[id] = run
	cp := *run
	return &cp, nil
}

// Get returns a copy of a single run, or nil when absent.
func (r *RunRegistry) Get(id string) *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if run, ok := r.runs[id]; ok {
		cp := *run
		cp.Artifacts = append([]string(nil), run.Artifacts...)
		return &cp
	}
	return nil
}

// Update atomically mutates a run via fn.
func (r *RunRegistry) Update(id string, fn func(*Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	fn(run)
	run.updatedAt = time.Now()
	return nil
}

// Delete removes a run.
func (r *RunRegistry) Delete(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

// Snapshot returns copies of all runs, or at most the one with the
// given ID when it is non-empty.
func (r *RunRegistry) Snapshot(id string) []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		if run, ok := r.runs[id]; ok {
			cp := *run
			cp.Artifacts = append([]string(nil), run.Artifacts...)
			return []*Run{&cp}
		}
		return []*Run{}
	}
	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		cp := *run
		cp.Artifacts = append([]string(nil), run.Artifacts...)
		out = append(out, &cp)
	}
	return out
}

// Len reports how many runs the registry holds.
func (r *RunRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
