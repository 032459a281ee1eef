// Package registry defines the entry data model and the store interfaces the
// governance service consumes. The store itself is an external collaborator;
// this package only fixes the shapes the coordinator, pipeline, and
// synchronizer depend on.
package registry

import (
	"fmt"
	"strings"
)

// OpKind identifies a change operation type
type OpKind string

const (
	// OpCreate creates a new entry
	OpCreate OpKind = "entry.create"

	// OpUpdate replaces an existing entry
	OpUpdate OpKind = "entry.update"

	// OpDelete removes an entry by id
	OpDelete OpKind = "entry.delete"
)

// KnownOpKind reports whether k is one of the recognized operation kinds
func KnownOpKind(k OpKind) bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// Well-known meta fields and meta.type values
const (
	// MetaType is the finer discriminant stored in entry meta
	MetaType = "type"

	// MetaPriority orders processors and listeners
	MetaPriority = "priority"

	// TypeProcessor marks an entry as a change pipeline processor
	TypeProcessor = "registry.processor"

	// TypeListener marks an entry as a change pipeline listener
	TypeListener = "registry.listener"
)

// Entry is a single registry record identified by "<namespace>:<name>"
type Entry struct {
	ID   string         `json:"id" yaml:"id"`
	Kind string         `json:"kind,omitempty" yaml:"kind,omitempty"`
	Meta map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Namespace returns the dotted namespace portion of the entry id
func (e *Entry) Namespace() string {
	ns, _, _ := ParseID(e.ID)
	return ns
}

// Name returns the name portion of the entry id
func (e *Entry) Name() string {
	_, name, _ := ParseID(e.ID)
	return name
}

// MetaString returns a string-valued meta field, or "" when absent
func (e *Entry) MetaString(key string) string {
	if e.Meta == nil {
		return ""
	}
	s, _ := e.Meta[key].(string)
	return s
}

// Priority returns the entry's meta.priority, defaulting to 0
func (e *Entry) Priority() int {
	if e.Meta == nil {
		return 0
	}
	switch v := e.Meta[MetaPriority].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Clone returns a deep copy of the entry
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		ID:   e.ID,
		Kind: e.Kind,
		Meta: cloneMap(e.Meta),
		Data: cloneMap(e.Data),
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ParseID splits an entry id into its namespace and name parts.
// Namespace components are dot separated; components containing path
// separators or colons are rejected because they cannot round-trip through
// the filesystem layout.
func ParseID(id string) (namespace string, name string, err error) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed entry id %q: want \"<namespace>:<name>\"", id)
	}
	namespace, name = id[:idx], id[idx+1:]
	if strings.Contains(name, "/") || strings.Contains(name, ":") {
		return "", "", fmt.Errorf("malformed entry id %q: name contains reserved characters", id)
	}
	for _, part := range strings.Split(namespace, ".") {
		if part == "" || strings.ContainsAny(part, "/:") {
			return "", "", fmt.Errorf("malformed entry id %q: bad namespace component", id)
		}
	}
	return namespace, name, nil
}

// Operation is a single tagged change against the registry. Delete
// operations only require Entry.ID to be set.
type Operation struct {
	Kind  OpKind `json:"kind" yaml:"kind"`
	Entry *Entry `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// Changeset is an ordered sequence of operations applied atomically
type Changeset []Operation

// Builder is the minimal surface the client accepts in place of a raw
// changeset. Callers hand over any value exposing the accumulated
// operations through Ops.
type Builder interface {
	Ops() []Operation
}
