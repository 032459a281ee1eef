package pipeline

import (
	"context"
	"maps"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// Context is the uniform argument shape threaded through every pipeline
// stage. Extra is an open record: processors may add arbitrary keys that
// stay visible downstream. Options and UserID are restored after every
// processor step and cannot be overwritten once the run has begun.
type Context struct {
	Changeset registry.Changeset
	VersionID string
	Options   map[string]any
	UserID    string
	RequestID string

	// Extra carries processor-returned keys across stages
	Extra map[string]any

	// Details accumulates per-item diagnostics; they are never discarded,
	// even on failure
	Details []operation.Detail
}

// Detail appends a diagnostic to the context
func (c *Context) Detail(id, typ, message string) {
	c.Details = append(c.Details, operation.Detail{ID: id, Type: typ, Message: message})
}

// Pipeline runs the pre-process → execute → post-process sequence against
// a store, resolving extensions through a dispatcher
type Pipeline struct {
	store      registry.Store
	dispatcher Dispatcher
}

// New creates a pipeline over the given store and dispatcher
func New(store registry.Store, dispatcher Dispatcher) *Pipeline {
	return &Pipeline{store: store, dispatcher: dispatcher}
}

// Run executes the full pipeline and returns the terminal result. The
// returned result is never nil; failures are reported through its Success
// flag.
func (p *Pipeline) Run(ctx context.Context, pctx *Context) *operation.Result {
	if pctx.Extra == nil {
		pctx.Extra = make(map[string]any)
	}

	if res := p.preProcess(ctx, pctx); res != nil {
		return p.finish(pctx, res)
	}

	execRes := p.execute(ctx, pctx)

	p.postProcess(ctx, pctx, execRes)

	return p.finish(pctx, execRes)
}

// finish folds the accumulated context state into the terminal result
func (p *Pipeline) finish(pctx *Context, res *operation.Result) *operation.Result {
	res.Details = append(res.Details, pctx.Details...)
	if len(pctx.Extra) > 0 {
		if res.Extra == nil {
			res.Extra = make(map[string]any, len(pctx.Extra))
		}
		maps.Copy(res.Extra, pctx.Extra)
	}
	if res.Changeset == nil {
		res.Changeset = pctx.Changeset
	}
	res.UserID = pctx.UserID
	res.RequestID = pctx.RequestID
	return res
}
