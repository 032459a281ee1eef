package processors

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wippyhq/registry-governor/internal/pipeline"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// DependencyResolver consumes the requires carried by the syntax validator
// and records each required module in the entry's data: plain names land in
// data.modules, registry-qualified and local-namespace names land in
// data.imports under a generated alias, and the source is rewritten to
// require that alias.
type DependencyResolver struct{}

// NewDependencyResolver creates the resolver
func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{}
}

// Invoke implements pipeline.Handler
func (*DependencyResolver) Invoke(_ context.Context, pctx *pipeline.Context) (*pipeline.StepResult, error) {
	carried, _ := pctx.Extra[RequiresKey].(map[string]map[string]string)
	if len(carried) == 0 {
		return nil, nil
	}

	for _, op := range pctx.Changeset {
		if op.Kind == registry.OpDelete || op.Entry == nil || !luaKinds[op.Entry.Kind] {
			continue
		}
		requires, ok := carried[op.Entry.ID]
		if !ok {
			continue
		}
		resolveEntry(op.Entry, requires)
	}
	return &pipeline.StepResult{Success: true}, nil
}

// resolveEntry fills modules/imports for one entry and rewrites its source
func resolveEntry(e *registry.Entry, requires map[string]string) {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}

	modules := toStringSet(e.Data["modules"])
	imports, _ := e.Data["imports"].(map[string]any)
	if imports == nil {
		imports = make(map[string]any)
	}

	source, _ := e.Data["source"].(string)

	// deterministic processing order
	names := make([]string, 0, len(requires))
	for m := range requires {
		names = append(names, m)
	}
	sort.Strings(names)

	for _, module := range names {
		statement := requires[module]
		switch {
		case strings.Contains(module, ":") || strings.Contains(module, "."):
			ref := module
			if !strings.Contains(module, ":") {
				// local-namespace module: qualify against the entry's own
				// namespace
				ref = e.Namespace() + ":" + module
			}
			alias := aliasFor(module, imports, ref)
			if imports[alias] != ref {
				imports[alias] = ref
			}
			rewritten := strings.Replace(statement, quoteArg(statement, module), quoteArg(statement, alias), 1)
			source = strings.ReplaceAll(source, statement, rewritten)
		default:
			if !modules[module] {
				modules[module] = true
			}
		}
	}

	if len(modules) > 0 {
		list := make([]any, 0, len(modules))
		for m := range modules {
			list = append(list, m)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].(string) < list[j].(string) })
		e.Data["modules"] = list
	}
	if len(imports) > 0 {
		e.Data["imports"] = imports
	}
	if source != "" {
		e.Data["source"] = source
	}
}

// aliasFor derives a unique import alias from the module's final segment,
// suffixing on collision with a different target
func aliasFor(module string, imports map[string]any, ref string) string {
	base := module
	if i := strings.LastIndexAny(base, ".:"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.ReplaceAll(base, "-", "_")

	alias := base
	for n := 2; ; n++ {
		existing, taken := imports[alias]
		if !taken || existing == ref {
			return alias
		}
		alias = fmt.Sprintf("%s_%d", base, n)
	}
}

// quoteArg reproduces the module name with the quote style used in the
// original statement, so plain substitution stays exact
func quoteArg(statement, name string) string {
	if strings.Contains(statement, "'") && !strings.Contains(statement, `"`) {
		return "'" + name + "'"
	}
	return `"` + name + `"`
}

func toStringSet(v any) map[string]bool {
	set := make(map[string]bool)
	list, _ := v.([]any)
	for _, item := range list {
		if s, ok := item.(string); ok {
			set[s] = true
		}
	}
	return set
}
