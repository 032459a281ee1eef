package processors

import (
	"context"

	"github.com/wippyhq/registry-governor/internal/logger"
	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// Builtin extension entry ids. The entries themselves live in the registry
// so the pipeline discovers them like any other extension; these constants
// tie them back to the handlers registered at startup.
const (
	IDKindLinter         = "system.processors:kind-lint"
	IDSyntaxValidator    = "system.processors:lua-syntax"
	IDDependencyResolver = "system.processors:lua-deps"
	IDEmptyDepsCleaner   = "system.processors:lua-cleanup"
	IDMethodInferrer     = "system.processors:lua-method"
	IDChangeLogger       = "system.listeners:change-log"
)

// Entries returns the registry entries declaring the builtin extensions,
// ready to be seeded into a fresh store
func Entries() []*registry.Entry {
	processor := func(id string, priority int) *registry.Entry {
		return &registry.Entry{
			ID:   id,
			Kind: "registry.entry",
			Meta: map[string]any{
				registry.MetaType:     registry.TypeProcessor,
				registry.MetaPriority: priority,
			},
		}
	}
	return []*registry.Entry{
		processor(IDKindLinter, 5),
		processor(IDSyntaxValidator, 10),
		processor(IDDependencyResolver, 20),
		processor(IDEmptyDepsCleaner, 30),
		processor(IDMethodInferrer, 40),
		{
			ID:   IDChangeLogger,
			Kind: "registry.entry",
			Meta: map[string]any{
				registry.MetaType:     registry.TypeListener,
				registry.MetaPriority: 0,
			},
		},
	}
}

// Register wires the builtin handlers into the dispatcher
func Register(reg *pipeline.HandlerRegistry) {
	reg.Register(IDKindLinter, NewKindLinter())
	reg.Register(IDSyntaxValidator, NewSyntaxValidator(NewParser()))
	reg.Register(IDDependencyResolver, NewDependencyResolver())
	reg.Register(IDEmptyDepsCleaner, NewEmptyDepsCleaner())
	reg.Register(IDMethodInferrer, NewMethodInferrer())
	reg.Register(IDChangeLogger, pipeline.HandlerFunc(logChanges))
}

// logChanges is the builtin listener: it records every applied changeset
func logChanges(_ context.Context, pctx *pipeline.Context) (*pipeline.StepResult, error) {
	logger.Infow("Changeset applied",
		"operations", len(pctx.Changeset),
		"user_id", pctx.UserID,
		"request_id", pctx.RequestID)
	return nil, nil
}
