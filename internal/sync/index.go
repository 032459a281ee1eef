package sync

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wippyhq/registry-governor/internal/registry"
)

// IndexFileName is the per-namespace index file written by the downloader
const IndexFileName = "_index.yaml"

// IndexVersion is the format version stamped into every index header
const IndexVersion = "1.0"

// indexHeader is the top of every _index.yaml
type indexHeader struct {
	Version   string         `yaml:"version"`
	Namespace string         `yaml:"namespace"`
	Meta      map[string]any `yaml:"meta,omitempty"`
}

// encodeIndex renders the index file for one namespace: the header, a blank
// line, the entries key, then each entry as a two-space-indented list
// element prefixed with a "# <namespace>:<name>" comment, sorted by name
// and separated by blank lines.
func encodeIndex(namespace string, entries []*registry.Entry, fieldOrder []string) ([]byte, error) {
	var buf bytes.Buffer

	header, err := yaml.Marshal(indexHeader{Version: IndexVersion, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("failed to encode index header: %w", err)
	}
	buf.Write(header)
	buf.WriteString("\n")
	buf.WriteString("entries:\n")

	sorted := make([]*registry.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name() < sorted[j].Name() })

	for i, e := range sorted {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "  # %s\n", e.ID)
		item, err := encodeIndexEntry(e, fieldOrder)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
		}
		buf.Write(item)
	}

	return buf.Bytes(), nil
}

// encodeIndexEntry renders one entry as a YAML list element. The entry's
// data fields are flattened to the top level next to name, kind, and meta;
// field order follows the policy's priority list, then alphabetical.
func encodeIndexEntry(e *registry.Entry, fieldOrder []string) ([]byte, error) {
	fields := map[string]any{
		"name": e.Name(),
	}
	if e.Kind != "" {
		fields["kind"] = e.Kind
	}
	if len(e.Meta) > 0 {
		fields["meta"] = e.Meta
	}
	for k, v := range e.Data {
		switch k {
		case "name", "kind", "meta":
			// data keys never shadow the entry identity fields
			continue
		}
		fields[k] = v
	}

	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range orderedKeys(fields, fieldOrder) {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
		valNode := &yaml.Node{}
		if err := valNode.Encode(fields[key]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	return asListItem(buf.Bytes()), nil
}

// asListItem indents a rendered mapping by two spaces and turns its first
// line into a "- " sequence element
func asListItem(doc []byte) []byte {
	lines := strings.Split(strings.TrimRight(string(doc), "\n"), "\n")
	var buf bytes.Buffer
	for i, line := range lines {
		if i == 0 {
			buf.WriteString("  - ")
		} else if line != "" {
			buf.WriteString("    ")
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

// orderedKeys sorts field names by the policy priority list; names not in
// the list follow in alphabetical order
func orderedKeys(fields map[string]any, fieldOrder []string) []string {
	rank := make(map[string]int, len(fieldOrder))
	for i, f := range fieldOrder {
		rank[f] = i
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iOK := rank[keys[i]]
		rj, jOK := rank[keys[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// indexFile is the parsed shape of an _index.yaml
type indexFile struct {
	Version   string           `yaml:"version"`
	Namespace string           `yaml:"namespace"`
	Meta      map[string]any   `yaml:"meta,omitempty"`
	Entries   []map[string]any `yaml:"entries"`
}

// decodeIndex parses an index file
func decodeIndex(data []byte) (*indexFile, error) {
	var idx indexFile
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	if idx.Namespace == "" {
		return nil, fmt.Errorf("index is missing a namespace")
	}
	return &idx, nil
}
