package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyhq/registry-governor/internal/registry"
)

func entry(id, kind string, data map[string]any) *registry.Entry {
	return &registry.Entry{ID: id, Kind: kind, Data: data}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := New()
	store.Seed(entry("a:x", "registry.entry", map[string]any{"port": 8080}))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)

	// later writes must not leak into the snapshot
	changes := snap.Changes()
	changes.Update(entry("a:x", "registry.entry", map[string]any{"port": 9090}))
	_, err = changes.Apply(ctx)
	require.NoError(t, err)

	got, ok := snap.Get("a:x")
	require.True(t, ok)
	assert.Equal(t, 8080, got.Data["port"])

	fresh, err := store.Snapshot(ctx)
	require.NoError(t, err)
	got, ok = fresh.Get("a:x")
	require.True(t, ok)
	assert.Equal(t, 9090, got.Data["port"])
}

func TestStore_ApplyProducesNewVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := New()
	before, err := store.CurrentVersion(ctx)
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	changes := snap.Changes()
	changes.Create(entry("services:api", "registry.entry", map[string]any{"port": 8080}))
	version, err := changes.Apply(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, version)
	assert.NotEqual(t, before, version)

	current, err := store.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, current)

	history, err := store.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStore_ApplyNoChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := New()
	store.Seed(entry("a:x", "registry.entry", map[string]any{"port": 8080}))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)

	// re-creating an identical entry and deleting a missing one is a no-op
	changes := snap.Changes()
	changes.Create(entry("a:x", "registry.entry", map[string]any{"port": 8080}))
	changes.Delete("a:missing")
	_, err = changes.Apply(ctx)
	assert.ErrorIs(t, err, registry.ErrNoChanges)
}

func TestStore_ApplyEmptyDelta(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := New()
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	_, err = snap.Changes().Apply(ctx)
	assert.ErrorIs(t, err, registry.ErrNoChanges)
}

func TestStore_ApplyVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := New()
	v1 := store.Seed(entry("a:x", "registry.entry", map[string]any{"port": 8080}))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	changes := snap.Changes()
	changes.Delete("a:x")
	_, err = changes.Apply(ctx)
	require.NoError(t, err)

	// roll back to v1
	got, err := store.ApplyVersion(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, v1, got)

	restored, err := store.Snapshot(ctx)
	require.NoError(t, err)
	_, ok := restored.Get("a:x")
	assert.True(t, ok)

	// applying the current version is a no-op
	got, err = store.ApplyVersion(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, v1, got)
}

func TestStore_ApplyVersionNotFound(t *testing.T) {
	t.Parallel()

	store := New()
	_, err := store.ApplyVersion(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, registry.ErrVersionNotFound)
}

func TestStore_Find(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := New()
	store.Seed(
		&registry.Entry{ID: "sys:b", Kind: "registry.entry", Meta: map[string]any{"type": "registry.processor"}},
		&registry.Entry{ID: "sys:a", Kind: "registry.entry", Meta: map[string]any{"type": "registry.processor"}},
		&registry.Entry{ID: "sys:c", Kind: "registry.entry", Meta: map[string]any{"type": "registry.listener"}},
	)

	found, err := store.Find(ctx, registry.Query{Meta: map[string]any{"type": "registry.processor"}})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "sys:a", found[0].ID)
	assert.Equal(t, "sys:b", found[1].ID)
}

func TestStore_BuildDelta(t *testing.T) {
	t.Parallel()

	store := New()
	current := []*registry.Entry{
		entry("a:keep", "registry.entry", map[string]any{"v": 1}),
		entry("a:change", "registry.entry", map[string]any{"v": 1}),
		entry("a:drop", "registry.entry", map[string]any{"v": 1}),
	}
	target := []*registry.Entry{
		entry("a:keep", "registry.entry", map[string]any{"v": 1}),
		entry("a:change", "registry.entry", map[string]any{"v": 2}),
		entry("a:new", "registry.entry", map[string]any{"v": 1}),
	}

	delta := store.BuildDelta(current, target)
	require.Len(t, delta, 3)

	byKind := map[registry.OpKind]string{}
	for _, op := range delta {
		byKind[op.Kind] = op.Entry.ID
	}
	assert.Equal(t, "a:change", byKind[registry.OpUpdate])
	assert.Equal(t, "a:new", byKind[registry.OpCreate])
	assert.Equal(t, "a:drop", byKind[registry.OpDelete])
}

func TestStore_BuildDeltaTreatsEmptyMapsAsNil(t *testing.T) {
	t.Parallel()

	store := New()
	current := []*registry.Entry{{ID: "a:x", Kind: "registry.entry", Data: map[string]any{}}}
	target := []*registry.Entry{{ID: "a:x", Kind: "registry.entry"}}

	assert.Empty(t, store.BuildDelta(current, target))
}
