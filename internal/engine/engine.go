// Package engine is the L3/L4 entity layer: tasks, steps, leases and anchors, built
// on top of internal/storage and internal/domain. Handlers in internal/rpc call into
// Engine rather than touching storage.Store directly, keeping rpc handlers separate
// from the storage package.
package engine

import (
	"context"

	"github.com/mindloom/mindloom/internal/graph"
	"github.com/mindloom/mindloom/internal/storage"
)

// Engine bundles a Store with the clock/id allocation its operations need.
type Engine struct {
	Store storage.Store
	Graph *graph.Graph // set by New; used by the strict reasoning gate (gate.go)
	Now   func() int64 // injected for deterministic tests
}

func New(store storage.Store, now func() int64) *Engine {
	return &Engine{Store: store, Graph: graph.New(store, now), Now: now}
}

func (e *Engine) nowMs() int64 { return e.Now() }

func (e *Engine) nextSeq(ctx context.Context, workspaceID string) (int64, error) {
	return e.Store.NextSeq(ctx, workspaceID)
}
