package sync

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyhq/registry-governor/internal/config"
	"github.com/wippyhq/registry-governor/internal/registry"
)

// fileURLPrefix marks a source field externalized to a side file
const fileURLPrefix = "file://"

// Loader reads a source tree back into registry entries. It is the inverse
// of the downloader: index files provide the entry shapes, and file://
// references are resolved against side files in the same directory.
type Loader struct {
	policy *config.Policy
}

// NewLoader creates a loader using the given materialization policy
func NewLoader(policy *config.Policy) *Loader {
	return &Loader{policy: policy}
}

// Load walks the tree under dir and returns every entry declared by its
// index files
func (l *Loader) Load(dir string) ([]*registry.Entry, error) {
	var entries []*registry.Entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != IndexFileName {
			return nil
		}
		loaded, err := l.loadIndex(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries = append(entries, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// loadIndex parses one index file and resolves its side-file references
func (l *Loader) loadIndex(path string) ([]*registry.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx, err := decodeIndex(data)
	if err != nil {
		return nil, err
	}
	if err := validateNamespace(idx.Namespace); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	entries := make([]*registry.Entry, 0, len(idx.Entries))
	for _, raw := range idx.Entries {
		entry, err := l.decodeEntry(idx.Namespace, dir, raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// decodeEntry turns a raw index element into an entry, pulling file://
// source references in from disk
func (l *Loader) decodeEntry(namespace, dir string, raw map[string]any) (*registry.Entry, error) {
	if err := validateEntryShape(raw); err != nil {
		return nil, fmt.Errorf("invalid entry in namespace %s: %w", namespace, err)
	}

	name, _ := raw["name"].(string)
	kind, _ := raw["kind"].(string)
	entry := &registry.Entry{
		ID:   namespace + ":" + name,
		Kind: kind,
	}
	if meta, ok := raw["meta"].(map[string]any); ok {
		entry.Meta = meta
	}

	for k, v := range raw {
		switch k {
		case "name", "kind", "meta":
			continue
		}
		if entry.Data == nil {
			entry.Data = make(map[string]any)
		}
		entry.Data[k] = v
	}

	if rule, ok := l.policy.RuleFor(entry.Kind, entry.MetaString(registry.MetaType)); ok {
		if ref, ok := entry.Data[rule.SourceField].(string); ok && strings.HasPrefix(ref, fileURLPrefix) {
			filename := strings.TrimPrefix(ref, fileURLPrefix)
			content, err := os.ReadFile(filepath.Join(dir, filename))
			if err != nil {
				return nil, fmt.Errorf("entry %s references missing file %s: %w", entry.ID, filename, err)
			}
			entry.Data[rule.SourceField] = string(content)
		}
	}

	if _, _, err := registry.ParseID(entry.ID); err != nil {
		return nil, err
	}
	return entry, nil
}

// validateNamespace rejects namespaces that cannot round-trip through the
// directory layout
func validateNamespace(namespace string) error {
	for _, part := range strings.Split(namespace, ".") {
		if part == "" || strings.ContainsAny(part, "/:") {
			return fmt.Errorf("invalid namespace %q", namespace)
		}
	}
	return nil
}

// namespaceDir maps a dotted namespace to its directory under base
func namespaceDir(base, namespace string) string {
	return filepath.Join(base, filepath.FromSlash(strings.ReplaceAll(namespace, ".", "/")))
}

// dirNamespace maps a directory under base back to its dotted namespace;
// the base itself maps to ""
func dirNamespace(base, dir string) string {
	rel, err := filepath.Rel(base, dir)
	if err != nil || rel == "." {
		return ""
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}
