package config

// KindRule maps an entry kind (optionally refined by meta.type) to the data
// field that is externalized as a side file and the file extension used
type KindRule struct {
	// Kind matches the entry kind exactly
	Kind string `yaml:"kind"`

	// MetaType further restricts the rule to entries whose meta.type
	// matches; empty matches any
	MetaType string `yaml:"metaType,omitempty"`

	// SourceField is the data field written to the side file
	SourceField string `yaml:"sourceField"`

	// Extension is appended to the entry name to build the filename
	Extension string `yaml:"extension"`
}

// Policy is the file materialization policy: which kinds get side files and
// how index fields are ordered. It is configuration, not mechanism, so tests
// can substitute their own tables.
type Policy struct {
	Rules      []KindRule `yaml:"rules,omitempty"`
	FieldOrder []string   `yaml:"fieldOrder,omitempty"`
}

// RuleFor returns the materialization rule for the given kind and meta.type
func (p *Policy) RuleFor(kind, metaType string) (KindRule, bool) {
	for _, r := range p.Rules {
		if r.Kind != kind {
			continue
		}
		if r.MetaType != "" && r.MetaType != metaType {
			continue
		}
		return r, true
	}
	return KindRule{}, false
}

// DefaultPolicy returns the built-in materialization table and index field
// ordering
func DefaultPolicy() *Policy {
	return &Policy{
		Rules: []KindRule{
			{Kind: "function.lua", SourceField: "source", Extension: ".lua"},
			{Kind: "library.lua", SourceField: "source", Extension: ".lua"},
			{Kind: "process.lua", SourceField: "source", Extension: ".lua"},
			{Kind: "workflow.lua", SourceField: "source", Extension: ".lua"},
			{Kind: "template.jet", SourceField: "source", Extension: ".jet"},
			{Kind: "registry.entry", MetaType: "view.page", SourceField: "source", Extension: ".html"},
			{Kind: "agent.gen1", SourceField: "source", Extension: ".yml"},
		},
		FieldOrder: []string{
			"version", "namespace", "name", "kind", "contract", "meta",
			"type", "title", "comment", "group", "tags", "icon",
			"description", "order", "content_type", "prompt", "model",
			"temperature", "max_tokens", "tools", "memory", "delegate",
			"source", "modules", "imports", "method", "depends_on",
			"router", "set", "resources", "entries",
		},
	}
}
