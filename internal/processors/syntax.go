package processors

import (
	"context"
	"fmt"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// RequiresKey is the carried context key mapping entry ids to their
// extracted require statements
const RequiresKey = "requires_by_entry"

// SyntaxValidator parses every Lua entry in the changeset, failing the
// pipeline on parse errors and carrying the extracted requires forward for
// the dependency resolver.
type SyntaxValidator struct {
	parser Parser
}

// NewSyntaxValidator creates the validator with the given parser
func NewSyntaxValidator(parser Parser) *SyntaxValidator {
	return &SyntaxValidator{parser: parser}
}

// Invoke implements pipeline.Handler
func (v *SyntaxValidator) Invoke(_ context.Context, pctx *pipeline.Context) (*pipeline.StepResult, error) {
	requiresByEntry := make(map[string]map[string]string)
	var details []operation.Detail

	for _, op := range pctx.Changeset {
		if op.Kind == registry.OpDelete || op.Entry == nil || !luaKinds[op.Entry.Kind] {
			continue
		}
		source, ok := op.Entry.Data["source"].(string)
		if !ok {
			continue
		}

		requires, err := v.parser.Parse(source)
		if err != nil {
			details = append(details, operation.Detail{
				ID:      op.Entry.ID,
				Type:    operation.DetailError,
				Message: fmt.Sprintf("Syntax error: %v", err),
			})
			continue
		}
		if len(requires) == 0 {
			continue
		}
		byModule := make(map[string]string, len(requires))
		for _, r := range requires {
			byModule[r.Module] = r.Statement
		}
		requiresByEntry[op.Entry.ID] = byModule
	}

	for _, d := range details {
		if d.Type == operation.DetailError {
			return &pipeline.StepResult{
				Success: false,
				Message: "Lua syntax validation failed",
				Details: details,
			}, nil
		}
	}

	return &pipeline.StepResult{
		Success: true,
		Details: details,
		Keys:    map[string]any{RequiresKey: requiresByEntry},
	}, nil
}
