package processors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/wippyhq/registry-governor/internal/operation"
	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
)

var (
	identPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	singleFieldReturn = regexp.MustCompile(`^\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*[^,}]+\s*\}$`)
)

// MethodInferrer fills data.method for function.lua entries that omit it,
// reading the method name off the module's final return expression: either
// a bare identifier or a single-field table constructor.
type MethodInferrer struct{}

// NewMethodInferrer creates the inferrer
func NewMethodInferrer() *MethodInferrer {
	return &MethodInferrer{}
}

// Invoke implements pipeline.Handler
func (*MethodInferrer) Invoke(_ context.Context, pctx *pipeline.Context) (*pipeline.StepResult, error) {
	var details []operation.Detail
	failed := false

	for _, op := range pctx.Changeset {
		if op.Kind == registry.OpDelete || op.Entry == nil || op.Entry.Kind != "function.lua" {
			continue
		}
		if op.Entry.Data == nil {
			op.Entry.Data = make(map[string]any)
		}
		if _, has := op.Entry.Data["method"]; has {
			continue
		}
		source, _ := op.Entry.Data["source"].(string)

		method, err := inferMethod(source)
		if err != nil {
			failed = true
			details = append(details, operation.Detail{
				ID:      op.Entry.ID,
				Type:    operation.DetailError,
				Message: fmt.Sprintf("Cannot infer method: %v", err),
			})
			continue
		}
		op.Entry.Data["method"] = method
		details = append(details, operation.Detail{
			ID:      op.Entry.ID,
			Type:    operation.DetailWarning,
			Message: fmt.Sprintf("Inferred method %q from final return", method),
		})
	}

	if failed {
		return &pipeline.StepResult{
			Success: false,
			Message: "Method inference failed",
			Details: details,
		}, nil
	}
	if len(details) == 0 {
		return nil, nil
	}
	return &pipeline.StepResult{Success: true, Details: details}, nil
}

// inferMethod extracts the method name from the final return expression
func inferMethod(source string) (string, error) {
	lines := strings.Split(source, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line == "end" {
			continue
		}
		rest, ok := strings.CutPrefix(line, "return")
		if !ok {
			return "", fmt.Errorf("module does not end with a return statement")
		}
		expr := strings.TrimSpace(rest)
		if identPattern.MatchString(expr) {
			return expr, nil
		}
		if m := singleFieldReturn.FindStringSubmatch(expr); m != nil {
			return m[1], nil
		}
		return "", fmt.Errorf("final return is not a bare identifier or single-field table")
	}
	return "", fmt.Errorf("module has no return statement")
}
