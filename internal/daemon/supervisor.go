package daemon

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs the functions handed to Go side by side and tears them all down
// together the moment any one fails or ctx is canceled. serve runs only the RPC
// listener under it; the hot-reload watcher runs outside the group.
type Supervisor struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewSupervisor returns a Supervisor bound to ctx. Cancel ctx (or return an error from
// any Go'd function) to begin shutdown of every other function.
func NewSupervisor(ctx context.Context) *Supervisor {
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{g: g, ctx: gctx}
}

// Context is the group's derived context; pass it to long-running functions so they
// observe sibling failures as cancellation.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Go runs fn under the supervised group.
func (s *Supervisor) Go(fn func() error) { s.g.Go(fn) }

// Wait blocks until every Go'd function returns, returning the first non-nil error.
func (s *Supervisor) Wait() error { return s.g.Wait() }
