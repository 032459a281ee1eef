package sync

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/wippyhq/registry-governor/internal/config"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// maxDisplaySource bounds how much of a source field the formatted
// changeset reproduces; longer sources collapse to a placeholder
const maxDisplaySource = 1000

// formatter renders changesets for display
type formatter struct {
	policy   *config.Policy
	previous map[string]*registry.Entry
}

// format produces one display line per operation. Update operations whose
// previous entry is known get a source diff summary.
func (f *formatter) format(cs registry.Changeset) []string {
	lines := make([]string, 0, len(cs))
	for _, op := range cs {
		lines = append(lines, f.formatOp(op))
	}
	return lines
}

func (f *formatter) formatOp(op registry.Operation) string {
	if op.Kind == registry.OpDelete {
		return fmt.Sprintf("%s %s", op.Kind, op.Entry.ID)
	}

	line := fmt.Sprintf("%s %s (%s)", op.Kind, op.Entry.ID, op.Entry.Kind)

	source, ok := f.sourceOf(op.Entry)
	if !ok {
		return line
	}

	if op.Kind == registry.OpUpdate {
		if prev, ok := f.previous[op.Entry.ID]; ok {
			if prevSource, ok := f.sourceOf(prev); ok {
				added, removed := diffCounts(prevSource, source)
				return fmt.Sprintf("%s [+%d/-%d]", line, added, removed)
			}
		}
	}

	if len(source) > maxDisplaySource {
		return fmt.Sprintf("%s source:<%d bytes>", line, len(source))
	}
	return fmt.Sprintf("%s source:%q", line, source)
}

func (f *formatter) sourceOf(e *registry.Entry) (string, bool) {
	rule, ok := f.policy.RuleFor(e.Kind, e.MetaString(registry.MetaType))
	if !ok {
		return "", false
	}
	s, ok := e.Data[rule.SourceField].(string)
	return s, ok
}

// diffCounts reports inserted and deleted byte counts between two sources
func diffCounts(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	for _, d := range dmp.DiffMain(before, after, false) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return added, removed
}
