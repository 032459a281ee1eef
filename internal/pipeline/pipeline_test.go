package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/registry"
	"github.com/wippyhq/registry-governor/internal/registry/inmemory"
)

func processorEntry(id string, priority int) *registry.Entry {
	return &registry.Entry{
		ID:   id,
		Kind: "registry.entry",
		Meta: map[string]any{
			registry.MetaType:     registry.TypeProcessor,
			registry.MetaPriority: priority,
		},
	}
}

func listenerEntry(id string, priority int) *registry.Entry {
	return &registry.Entry{
		ID:   id,
		Kind: "registry.entry",
		Meta: map[string]any{
			registry.MetaType:     registry.TypeListener,
			registry.MetaPriority: priority,
		},
	}
}

func createOp(id string) registry.Operation {
	return registry.Operation{
		Kind:  registry.OpCreate,
		Entry: &registry.Entry{ID: id, Kind: "registry.entry", Data: map[string]any{"v": 1}},
	}
}

func TestPipeline_AppliesChangeset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := inmemory.New()
	p := New(store, NewHandlerRegistry())

	res := p.Run(ctx, &Context{
		Changeset: registry.Changeset{createOp("services:api")},
		UserID:    "alice",
		RequestID: "req-1",
	})

	require.True(t, res.Success)
	assert.NotEmpty(t, res.Version)
	assert.Equal(t, "alice", res.UserID)
	assert.Equal(t, "req-1", res.RequestID)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := snap.Get("services:api")
	assert.True(t, ok)
}

func TestPipeline_EmptyChangeset(t *testing.T) {
	t.Parallel()

	p := New(inmemory.New(), NewHandlerRegistry())
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{}})

	assert.False(t, res.Success)
	assert.Equal(t, "Changeset is empty", res.Message)
}

func TestPipeline_PartialValidation(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	p := New(store, NewHandlerRegistry())

	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{
		createOp("services:api"),
		{Kind: "entry.frobnicate", Entry: &registry.Entry{ID: "services:bad"}},
		{Kind: registry.OpDelete, Entry: &registry.Entry{}},
	}})

	// the valid remainder proceeds; each bad item leaves a detail
	require.True(t, res.Success)
	require.Len(t, res.Details, 2)
	assert.Equal(t, "services:bad", res.Details[0].ID)
	assert.Equal(t, operation.DetailValidation, res.Details[0].Type)
	assert.Contains(t, res.Details[0].Message, "unrecognized operation kind")
	assert.Contains(t, res.Details[1].Message, "requires an entry id")
}

func TestPipeline_AllItemsIllFormed(t *testing.T) {
	t.Parallel()

	p := New(inmemory.New(), NewHandlerRegistry())
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{
		{Kind: "bogus", Entry: &registry.Entry{ID: "a:x"}},
	}})

	assert.False(t, res.Success)
	assert.Equal(t, "Changeset validation failed", res.Message)
	assert.Len(t, res.Details, 1)
}

func TestPipeline_VersionNotFound(t *testing.T) {
	t.Parallel()

	p := New(inmemory.New(), NewHandlerRegistry())
	res := p.Run(context.Background(), &Context{VersionID: "does-not-exist"})

	assert.False(t, res.Success)
	assert.Equal(t, "Failed to validate version ID", res.Message)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "version:does-not-exist", res.Details[0].ID)
	assert.Equal(t, "validation", res.Details[0].Type)
	assert.Equal(t, "Version not found: does-not-exist", res.Details[0].Message)
}

func TestPipeline_ApplyVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := inmemory.New()
	v1 := store.Seed(&registry.Entry{ID: "a:x", Kind: "registry.entry"})

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	changes := snap.Changes()
	changes.Delete("a:x")
	_, err = changes.Apply(ctx)
	require.NoError(t, err)

	p := New(store, NewHandlerRegistry())
	res := p.Run(ctx, &Context{VersionID: v1})

	require.True(t, res.Success)
	assert.Equal(t, v1, res.Version)
}

func TestPipeline_NoChangesNeeded(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(&registry.Entry{ID: "a:x", Kind: "registry.entry", Data: map[string]any{"v": 1}})

	p := New(store, NewHandlerRegistry())
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{
		{Kind: registry.OpCreate, Entry: &registry.Entry{ID: "a:x", Kind: "registry.entry", Data: map[string]any{"v": 1}}},
	}})

	require.True(t, res.Success)
	assert.Equal(t, NoChangesMessage, res.Message)
	assert.Empty(t, res.Version)
}

func TestPipeline_ProcessorOrdering(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(
		processorEntry("sys:A", 10),
		processorEntry("sys:B", 5),
		processorEntry("sys:C", 20),
	)

	var order []string
	reg := NewHandlerRegistry()
	for _, id := range []string{"sys:A", "sys:B", "sys:C"} {
		id := id
		reg.Register(id, HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
			order = append(order, id)
			return nil, nil
		}))
	}

	p := New(store, reg)
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{createOp("services:api")}})

	require.True(t, res.Success)
	assert.Equal(t, []string{"sys:B", "sys:A", "sys:C"}, order)
}

func TestPipeline_ProcessorFailureAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := inmemory.New()
	store.Seed(processorEntry("sys:reject", 0), processorEntry("sys:after", 10))

	invoked := false
	reg := NewHandlerRegistry()
	reg.Register("sys:reject", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		return &StepResult{
			Success: false,
			Message: "rejected by policy",
			Details: []operation.Detail{{ID: "services:api", Type: operation.DetailValidation, Message: "nope"}},
		}, nil
	}))
	reg.Register("sys:after", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		invoked = true
		return nil, nil
	}))

	p := New(store, reg)
	res := p.Run(ctx, &Context{Changeset: registry.Changeset{createOp("services:api")}})

	assert.False(t, res.Success)
	assert.Equal(t, "rejected by policy", res.Message)
	assert.Len(t, res.Details, 1)
	assert.False(t, invoked)

	// nothing was executed
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := snap.Get("services:api")
	assert.False(t, ok)
}

func TestPipeline_ProcessorError(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(processorEntry("sys:boom", 0))

	reg := NewHandlerRegistry()
	reg.Register("sys:boom", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		return nil, errors.New("exploded")
	}))

	p := New(store, reg)
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{createOp("services:api")}})

	assert.False(t, res.Success)
	assert.Equal(t, "Processor sys:boom failed", res.Message)
	assert.Equal(t, "exploded", res.Error)
}

func TestPipeline_UnresolvableProcessor(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(processorEntry("sys:ghost", 0))

	p := New(store, NewHandlerRegistry())
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{createOp("services:api")}})

	assert.False(t, res.Success)
	assert.Equal(t, "Processor not available: sys:ghost", res.Message)
}

func TestPipeline_OptionsImmutability(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(processorEntry("sys:first", 0), processorEntry("sys:second", 10))

	var secondSawOptions map[string]any
	var secondSawUser string
	var secondSawCustom any

	reg := NewHandlerRegistry()
	reg.Register("sys:first", HandlerFunc(func(_ context.Context, pctx *Context) (*StepResult, error) {
		pctx.Options = map[string]any{"hijacked": true}
		pctx.UserID = "mallory"
		return &StepResult{
			Success: true,
			Keys: map[string]any{
				"options": map[string]any{"hijacked": true},
				"user_id": "mallory",
				"custom":  "visible",
			},
		}, nil
	}))
	reg.Register("sys:second", HandlerFunc(func(_ context.Context, pctx *Context) (*StepResult, error) {
		secondSawOptions = pctx.Options
		secondSawUser = pctx.UserID
		secondSawCustom = pctx.Extra["custom"]
		return nil, nil
	}))

	p := New(store, reg)
	res := p.Run(context.Background(), &Context{
		Changeset: registry.Changeset{createOp("services:api")},
		Options:   map[string]any{"directory": "/src"},
		UserID:    "alice",
	})

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"directory": "/src"}, secondSawOptions)
	assert.Equal(t, "alice", secondSawUser)
	assert.Equal(t, "visible", secondSawCustom)
	assert.Equal(t, "visible", res.Extra["custom"])
}

func TestPipeline_ProcessorTransformsChangeset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := inmemory.New()
	store.Seed(processorEntry("sys:transform", 0))

	reg := NewHandlerRegistry()
	reg.Register("sys:transform", HandlerFunc(func(_ context.Context, pctx *Context) (*StepResult, error) {
		return &StepResult{
			Success: true,
			Keys: map[string]any{
				"changeset": registry.Changeset{createOp("services:rewritten")},
			},
		}, nil
	}))

	p := New(store, reg)
	res := p.Run(ctx, &Context{Changeset: registry.Changeset{createOp("services:api")}})

	require.True(t, res.Success)

	// the executor ran the processor's output, not the client's input
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := snap.Get("services:rewritten")
	assert.True(t, ok)
	_, ok = snap.Get("services:api")
	assert.False(t, ok)
}

func TestPipeline_ListenersFireAndForget(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(listenerEntry("sys:l1", 10), listenerEntry("sys:l2", 5))

	var order []string
	reg := NewHandlerRegistry()
	reg.Register("sys:l1", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		order = append(order, "l1")
		return nil, errors.New("listener blew up")
	}))
	reg.Register("sys:l2", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		order = append(order, "l2")
		return nil, nil
	}))

	p := New(store, reg)
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{createOp("services:api")}})

	// listener order is deterministic and failures never affect the reply
	require.True(t, res.Success)
	assert.Equal(t, []string{"l2", "l1"}, order)
}

func TestPipeline_ListenersSkippedOnFailure(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(listenerEntry("sys:l1", 0))

	invoked := false
	reg := NewHandlerRegistry()
	reg.Register("sys:l1", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		invoked = true
		return nil, nil
	}))

	p := New(store, reg)
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{
		{Kind: "bogus", Entry: &registry.Entry{ID: "a:x"}},
	}})

	assert.False(t, res.Success)
	assert.False(t, invoked)
}

func TestPipeline_NothingToApply(t *testing.T) {
	t.Parallel()

	p := New(inmemory.New(), NewHandlerRegistry())
	res := p.Run(context.Background(), &Context{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "changeset or version_id is required")
}

func TestPipeline_DetailsSurviveFailure(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(processorEntry("sys:warn", 0), processorEntry("sys:reject", 10))

	reg := NewHandlerRegistry()
	reg.Register("sys:warn", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		return &StepResult{
			Success: true,
			Details: []operation.Detail{{ID: "services:api", Type: operation.DetailWarning, Message: "heads up"}},
		}, nil
	}))
	reg.Register("sys:reject", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		return &StepResult{Success: false, Message: "no"}, nil
	}))

	p := New(store, reg)
	res := p.Run(context.Background(), &Context{Changeset: registry.Changeset{createOp("services:api")}})

	require.False(t, res.Success)
	require.Len(t, res.Details, 1)
	assert.Equal(t, "heads up", res.Details[0].Message)
}

func TestDiscoverExtensions_TieBreakOnID(t *testing.T) {
	t.Parallel()

	store := inmemory.New()
	store.Seed(
		processorEntry("sys:z", 5),
		processorEntry("sys:a", 5),
	)

	entries, err := discoverExtensions(context.Background(), store, registry.TypeProcessor)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sys:a", entries[0].ID)
	assert.Equal(t, "sys:z", entries[1].ID)
}

func TestPipeline_InstallingProcessorTakesEffectImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := inmemory.New()
	reg := NewHandlerRegistry()
	p := New(store, reg)

	res := p.Run(ctx, &Context{Changeset: registry.Changeset{createOp("services:one")}})
	require.True(t, res.Success)

	// install a processor entry between runs; the next run must see it
	count := 0
	store.Seed(processorEntry("sys:counter", 0))
	reg.Register("sys:counter", HandlerFunc(func(context.Context, *Context) (*StepResult, error) {
		count++
		return nil, nil
	}))

	res = p.Run(ctx, &Context{Changeset: registry.Changeset{createOp("services:two")}})
	require.True(t, res.Success)
	assert.Equal(t, 1, count)
}
