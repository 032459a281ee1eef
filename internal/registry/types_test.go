package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		id        string
		namespace string
		entryName string
		wantErr   bool
	}{
		{
			name:      "simple id",
			id:        "services:api",
			namespace: "services",
			entryName: "api",
		},
		{
			name:      "dotted namespace",
			id:        "a.b.c:handler",
			namespace: "a.b.c",
			entryName: "handler",
		},
		{
			name:    "missing separator",
			id:      "services",
			wantErr: true,
		},
		{
			name:    "empty namespace",
			id:      ":api",
			wantErr: true,
		},
		{
			name:    "empty name",
			id:      "services:",
			wantErr: true,
		},
		{
			name:    "slash in namespace component",
			id:      "a/b:x",
			wantErr: true,
		},
		{
			name:    "empty namespace component",
			id:      "a..b:x",
			wantErr: true,
		},
		{
			name:    "slash in name",
			id:      "a:x/y",
			wantErr: true,
		},
		{
			name:    "second colon in name",
			id:      "a:x:y",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			namespace, name, err := ParseID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.namespace, namespace)
			assert.Equal(t, tt.entryName, name)
		})
	}
}

func TestEntry_Priority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		meta     map[string]any
		expected int
	}{
		{name: "nil meta", meta: nil, expected: 0},
		{name: "missing priority", meta: map[string]any{}, expected: 0},
		{name: "int priority", meta: map[string]any{"priority": 7}, expected: 7},
		{name: "float priority from json", meta: map[string]any{"priority": float64(12)}, expected: 12},
		{name: "non-numeric priority", meta: map[string]any{"priority": "high"}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := &Entry{ID: "ns:x", Meta: tt.meta}
			assert.Equal(t, tt.expected, e.Priority())
		})
	}
}

func TestEntry_Clone(t *testing.T) {
	t.Parallel()

	original := &Entry{
		ID:   "ns:x",
		Kind: "function.lua",
		Meta: map[string]any{"type": "handler"},
		Data: map[string]any{
			"source":  "return 1",
			"modules": []any{"json"},
			"nested":  map[string]any{"a": 1},
		},
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Data["source"] = "return 2"
	clone.Data["nested"].(map[string]any)["a"] = 2
	assert.Equal(t, "return 1", original.Data["source"])
	assert.Equal(t, 1, original.Data["nested"].(map[string]any)["a"])
}

func TestQuery_Matches(t *testing.T) {
	t.Parallel()

	entry := &Entry{
		ID:   "ns:x",
		Kind: "registry.entry",
		Meta: map[string]any{"type": "registry.processor", "priority": 5},
	}

	assert.True(t, Query{}.Matches(entry))
	assert.True(t, Query{Kind: "registry.entry"}.Matches(entry))
	assert.False(t, Query{Kind: "function.lua"}.Matches(entry))
	assert.True(t, Query{Meta: map[string]any{"type": "registry.processor"}}.Matches(entry))
	assert.False(t, Query{Meta: map[string]any{"type": "registry.listener"}}.Matches(entry))
	assert.False(t, Query{Meta: map[string]any{"type": "x"}}.Matches(&Entry{ID: "ns:y"}))
}
