package pipeline

import (
	"context"
	"time"

	"mediadigest/internal/store"
)

// Hooks are optional callbacks for persistence or external tracking.
// Implementations should be fast; the Manager invokes them in goroutines.
type Hooks interface {
	OnStage(runID, stage string)
	OnProgress(runID string, progress float64)
	OnArtifact(runID, path string)
	OnStateChange(runID string, state State, errMsg string)
}

// StoreHooks persists run lifecycle events into the SQLite store.
type StoreHooks struct {
	st      *store.Store
	timeout time.Duration
}

// NewStoreHooks wraps a store as Manager hooks.
func NewStoreHooks(st *store.Store) *StoreHooks {
	return &StoreHooks{st: st, timeout: 5 * time.Second}
}

func (h *StoreHooks) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

func (h *StoreHooks) OnStage(runID, stage string) {
	ctx, cancel := h.ctx()
	defer cancel()
	_ = h.st.SetStage(ctx, runID, stage)
}

func (h *StoreHooks) OnProgress(runID string, progress float64) {
	ctx, cancel := h.ctx()
	defer cancel()
	_ = h.st.UpdateProgress(ctx, runID, progress)
}

func (h *StoreHooks) OnArtifact(runID, path string) {
	ctx, cancel := h.ctx()
	defer cancel()
	_ = h.st.AddArtifact(ctx, runID, path)
}

func (h *StoreHooks) OnStateChange(runID string, state State, errMsg string) {
	ctx, cancel := h.ctx()
	defer cancel()
	switch state {
	case StateCompleted:
		_ = h.st.MarkCompleted(ctx, runID)
	case StateFailed:
		_ = h.st.MarkFailed(ctx, runID, errMsg)
	}
}
