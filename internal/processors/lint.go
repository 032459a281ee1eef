package processors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// defaultKinds is the allow-list the linter ships with
var defaultKinds = []string{
	"function.lua",
	"library.lua",
	"process.lua",
	"workflow.lua",
	"template.jet",
	"registry.entry",
	"agent.gen1",
	"ns.definition",
}

// KindLinter rejects changesets introducing entries with unrecognized
// kinds, suggesting close matches built from kinds sharing a prefix
type KindLinter struct {
	allowed map[string]bool
}

// NewKindLinter creates a linter with the default allow-list
func NewKindLinter() *KindLinter {
	return NewKindLinterWithKinds(defaultKinds)
}

// NewKindLinterWithKinds creates a linter with a custom allow-list
func NewKindLinterWithKinds(kinds []string) *KindLinter {
	allowed := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &KindLinter{allowed: allowed}
}

// Invoke implements pipeline.Handler
func (l *KindLinter) Invoke(_ context.Context, pctx *pipeline.Context) (*pipeline.StepResult, error) {
	var details []operation.Detail
	for _, op := range pctx.Changeset {
		if op.Kind == registry.OpDelete || op.Entry == nil {
			continue
		}
		if l.allowed[op.Entry.Kind] {
			continue
		}
		msg := fmt.Sprintf("Unknown kind: %s", op.Entry.Kind)
		if suggestions := l.suggest(op.Entry.Kind); len(suggestions) > 0 {
			msg = fmt.Sprintf("%s (did you mean %s?)", msg, strings.Join(suggestions, ", "))
		}
		details = append(details, operation.Detail{
			ID:      op.Entry.ID,
			Type:    operation.DetailValidation,
			Message: msg,
		})
	}
	if len(details) == 0 {
		return nil, nil
	}
	return &pipeline.StepResult{
		Success: false,
		Message: "Changeset contains unknown entry kinds",
		Details: details,
	}, nil
}

// suggest lists allowed kinds sharing a prefix with the unknown kind
func (l *KindLinter) suggest(kind string) []string {
	prefix := kind
	if i := strings.Index(kind, "."); i > 0 {
		prefix = kind[:i]
	}
	var out []string
	for k := range l.allowed {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
