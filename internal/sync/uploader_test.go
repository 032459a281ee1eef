package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyhq/registry-governor/internal/registry"
	"github.com/wippyhq/registry-governor/internal/registry/inmemory"
)

func seedAndDownload(t *testing.T, dir string, store *inmemory.Store) {
	t.Helper()
	d := NewDownloader(store, testConfig(dir))
	res := d.Run(context.Background(), nil)
	require.True(t, res.Success, "download failed: %s %s", res.Message, res.Error)
}

func TestUploader_InSyncTreeYieldsNoChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	store := inmemory.New()
	store.Seed(
		&registry.Entry{ID: "a.b:x", Kind: "function.lua", Data: map[string]any{"source": "return 1"}},
		&registry.Entry{ID: "svc:api", Kind: "registry.entry", Meta: map[string]any{"type": "service.api"}, Data: map[string]any{"port": 8080}},
	)
	seedAndDownload(t, dir, store)

	u := NewUploader(store, testConfig(dir))
	res := u.Run(ctx, nil)

	require.True(t, res.Success, "upload failed: %s %s", res.Message, res.Error)
	assert.Equal(t, 0, res.Count)
	assert.False(t, res.HasChanges)
	assert.Empty(t, res.Changeset)
}

func TestUploader_DetectsSourceEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	store := inmemory.New()
	store.Seed(&registry.Entry{ID: "a.b:x", Kind: "function.lua", Data: map[string]any{"source": "return 1"}})
	seedAndDownload(t, dir, store)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "x.lua"), []byte("return 2"), 0600))

	u := NewUploader(store, testConfig(dir))
	res := u.Run(ctx, nil)

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.HasChanges)
	assert.Equal(t, 1, res.Stats[StatUpdate])
	assert.Equal(t, 0, res.Stats[StatCreate])
	assert.Equal(t, 0, res.Stats[StatDelete])

	require.Len(t, res.Changeset, 1)
	op := res.Changeset[0]
	assert.Equal(t, registry.OpUpdate, op.Kind)
	assert.Equal(t, "a.b:x", op.Entry.ID)
	assert.Equal(t, "return 2", op.Entry.Data["source"])
}

func TestUploader_DetectsCreateAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	store := inmemory.New()
	store.Seed(
		&registry.Entry{ID: "a.b:x", Kind: "function.lua", Data: map[string]any{"source": "return 1"}},
		&registry.Entry{ID: "a.b:gone", Kind: "function.lua", Data: map[string]any{"source": "return 0"}},
	)
	seedAndDownload(t, dir, store)

	// hand-edit the tree: drop "gone", add "fresh"
	require.NoError(t, os.Remove(filepath.Join(dir, "a", "b", "gone.lua")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "fresh.lua"), []byte("return 3"), 0600))

	index := filepath.Join(dir, "a", "b", IndexFileName)
	data, err := os.ReadFile(index)
	require.NoError(t, err)
	edited := strings.ReplaceAll(string(data), "gone", "fresh")
	require.NoError(t, os.WriteFile(index, []byte(edited), 0600))

	u := NewUploader(store, testConfig(dir))
	res := u.Run(ctx, nil)

	require.True(t, res.Success, "upload failed: %s %s", res.Message, res.Error)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, res.Stats[StatCreate])
	assert.Equal(t, 1, res.Stats[StatDelete])
	assert.Equal(t, 0, res.Stats[StatUpdate])
}

func TestUploader_CheckOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	store := inmemory.New()
	store.Seed(&registry.Entry{ID: "a.b:x", Kind: "function.lua", Data: map[string]any{"source": "return 1"}})
	seedAndDownload(t, dir, store)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "x.lua"), []byte("return 9"), 0600))

	u := NewUploader(store, testConfig(dir))
	res := u.Run(ctx, map[string]any{"check_only": true})

	require.True(t, res.Success)
	assert.True(t, res.HasChanges)
	assert.Equal(t, 1, res.Count)
	// check-only never yields an applicable changeset
	assert.Empty(t, res.Changeset)
	assert.NotEmpty(t, res.Formatted)
}

func TestUploader_MissingDirectory(t *testing.T) {
	t.Parallel()

	u := NewUploader(inmemory.New(), testConfig(""))
	res := u.Run(context.Background(), nil)
	assert.False(t, res.Success)
}

func TestUploader_BadIndexFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	nsDir := filepath.Join(dir, "a")
	require.NoError(t, os.MkdirAll(nsDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, IndexFileName), []byte("entries: {broken"), 0600))

	u := NewUploader(inmemory.New(), testConfig(dir))
	res := u.Run(ctx, nil)

	assert.False(t, res.Success)
	assert.Equal(t, "Failed to load source tree", res.Message)
}

func TestFormatter_TruncatesLongSource(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxDisplaySource+1)
	f := &formatter{policy: testConfig("").Materialize, previous: map[string]*registry.Entry{}}
	lines := f.format(registry.Changeset{{
		Kind:  registry.OpCreate,
		Entry: &registry.Entry{ID: "a:x", Kind: "function.lua", Data: map[string]any{"source": long}},
	}})

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "source:<1001 bytes>")
	assert.NotContains(t, lines[0], long)
}

func TestFormatter_UpdateDiffSummary(t *testing.T) {
	t.Parallel()

	previous := map[string]*registry.Entry{
		"a:x": {ID: "a:x", Kind: "function.lua", Data: map[string]any{"source": "return 1"}},
	}
	f := &formatter{policy: testConfig("").Materialize, previous: previous}
	lines := f.format(registry.Changeset{{
		Kind:  registry.OpUpdate,
		Entry: &registry.Entry{ID: "a:x", Kind: "function.lua", Data: map[string]any{"source": "return 42"}},
	}})

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "entry.update a:x")
	assert.Contains(t, lines[0], "[+")
}

func TestLoader_RejectsInvalidEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nsDir := filepath.Join(dir, "a")
	require.NoError(t, os.MkdirAll(nsDir, 0750))
	index := "version: \"1.0\"\nnamespace: a\n\nentries:\n  - name: x\n"
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, IndexFileName), []byte(index), 0600))

	_, err := NewLoader(testConfig("").Materialize).Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid entry")
}

func TestLoader_ResolvesFileReferences(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nsDir := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nsDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, "x.lua"), []byte("return 7"), 0600))
	index := "version: \"1.0\"\nnamespace: a.b\n\nentries:\n  - name: x\n    kind: function.lua\n    source: file://x.lua\n"
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, IndexFileName), []byte(index), 0600))

	entries, err := NewLoader(testConfig("").Materialize).Load(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.b:x", entries[0].ID)
	assert.Equal(t, "return 7", entries[0].Data["source"])
}

func TestLoader_MissingSideFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nsDir := filepath.Join(dir, "a")
	require.NoError(t, os.MkdirAll(nsDir, 0750))
	index := "version: \"1.0\"\nnamespace: a\n\nentries:\n  - name: x\n    kind: function.lua\n    source: file://x.lua\n"
	require.NoError(t, os.WriteFile(filepath.Join(nsDir, IndexFileName), []byte(index), 0600))

	_, err := NewLoader(testConfig("").Materialize).Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing file")
}
