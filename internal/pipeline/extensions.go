// Package pipeline implements the three-stage change pipeline: pre-process,
// execute, post-process. Processors and listeners are registry entries
// discovered per run, so installing one takes effect immediately.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// StepResult is what a processor or listener returns. A nil StepResult
// means "no change". Keys other than the fixed fields are merged into the
// pipeline context and stay visible to downstream stages and the client;
// the reserved options and user_id keys are discarded so extensions cannot
// rewrite security-relevant context mid-run.
type StepResult struct {
	Success bool
	Message string
	Details []operation.Detail
	Keys    map[string]any
}

// Handler is an invocable pipeline extension resolved by entry id
type Handler interface {
	Invoke(ctx context.Context, pctx *Context) (*StepResult, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, pctx *Context) (*StepResult, error)

// Invoke implements Handler
func (f HandlerFunc) Invoke(ctx context.Context, pctx *Context) (*StepResult, error) {
	return f(ctx, pctx)
}

// Dispatcher resolves extension entry ids to their handlers
type Dispatcher interface {
	Resolve(entryID string) (Handler, bool)
}

// HandlerRegistry is the default Dispatcher: a concurrent map of entry id
// to handler, populated at startup
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register associates an entry id with its handler, replacing any previous
// registration
func (r *HandlerRegistry) Register(entryID string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entryID] = h
}

// Resolve implements Dispatcher
func (r *HandlerRegistry) Resolve(entryID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[entryID]
	return h, ok
}

// discoverExtensions queries the store for entries of the given meta.type
// and returns them ordered by ascending meta.priority, ties broken by id.
// Nothing is cached: each pipeline run re-queries the store.
func discoverExtensions(ctx context.Context, store registry.Store, metaType string) ([]*registry.Entry, error) {
	entries, err := store.Find(ctx, registry.Query{Meta: map[string]any{registry.MetaType: metaType}})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].Priority(), entries[j].Priority()
		if pi != pj {
			return pi < pj
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}
