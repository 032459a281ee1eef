package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// entrySchema constrains the entry elements read from index files. Name and
// kind are the identity fields; everything else is per-kind payload.
const entrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[^/:]+$"
    },
    "kind": {
      "type": "string",
      "minLength": 1
    },
    "meta": {
      "type": "object"
    }
  },
  "required": ["name", "kind"]
}`

var (
	compiledSchema     *jsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

func loadEntrySchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(entrySchema)))
		if err != nil {
			compileSchemaError = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("entry.schema.json", doc); err != nil {
			compileSchemaError = err
			return
		}
		compiledSchema, compileSchemaError = compiler.Compile("entry.schema.json")
	})
	return compiledSchema, compileSchemaError
}

// validateEntryShape checks a raw index entry against the embedded schema.
// The value round-trips through JSON so YAML-decoded scalars match the
// validator's expectations.
func validateEntryShape(raw map[string]any) error {
	schema, err := loadEntrySchema()
	if err != nil {
		return fmt.Errorf("entry schema unavailable: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("entry is not encodable: %w", err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(value)
}
