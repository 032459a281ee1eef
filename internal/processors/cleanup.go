package processors

import (
	"context"

	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// EmptyDepsCleaner strips empty modules arrays and empty imports maps from
// Lua entry data, keeping stored entries minimal
type EmptyDepsCleaner struct{}

// NewEmptyDepsCleaner creates the cleaner
func NewEmptyDepsCleaner() *EmptyDepsCleaner {
	return &EmptyDepsCleaner{}
}

// Invoke implements pipeline.Handler
func (*EmptyDepsCleaner) Invoke(_ context.Context, pctx *pipeline.Context) (*pipeline.StepResult, error) {
	changed := false
	for _, op := range pctx.Changeset {
		if op.Kind == registry.OpDelete || op.Entry == nil || op.Entry.Data == nil || !luaKinds[op.Entry.Kind] {
			continue
		}
		if list, ok := op.Entry.Data["modules"].([]any); ok && len(list) == 0 {
			delete(op.Entry.Data, "modules")
			changed = true
		}
		if m, ok := op.Entry.Data["imports"].(map[string]any); ok && len(m) == 0 {
			delete(op.Entry.Data, "imports")
			changed = true
		}
	}
	if !changed {
		return nil, nil
	}
	return &pipeline.StepResult{Success: true}, nil
}
