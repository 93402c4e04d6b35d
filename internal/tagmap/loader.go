// Package tagmap implements the tag-map loader named in spec.md §4.4: given
// a file path and a mutable in-memory map, it reads the file, parses a
// tag-name -> tag-id mapping, and rewrites the map in place.
package tagmap

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// schemaJSON constrains the parsed document to a flat string -> string
// mapping, so a malformed file (wrong nesting, non-string tag ids) fails
// before any mutation of the destination map, matching the "reload failures
// do not prevent the engine from running with the previous map" guarantee.
const schemaJSON = `{
	"type": "object",
	"additionalProperties": {"type": "string"}
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal tag map schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tagmap.json", doc); err != nil {
			schemaErr = fmt.Errorf("add tag map schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile("tagmap.json")
	})
	return schema, schemaErr
}

// Load reads path as a YAML tag-name -> tag-id mapping and rewrites dst in
// place: existing keys are cleared, new keys are added. It returns the new
// entry count. On any failure — unreadable file, malformed YAML, or a
// document that does not match the flat string map schema — dst is left
// completely untouched and an error is returned.
func Load(path string, dst map[string]string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("tag map: read %s: %w", path, err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return 0, fmt.Errorf("tag map: parse %s: %w", path, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return 0, fmt.Errorf("tag map: %w", err)
	}
	if err := sch.Validate(generic); err != nil {
		return 0, fmt.Errorf("tag map: %s does not match the expected shape: %w", path, err)
	}

	parsed := make(map[string]string, len(generic))
	for name, id := range generic {
		s, ok := id.(string)
		if !ok {
			return 0, fmt.Errorf("tag map: %s: tag %q has a non-string id", path, name)
		}
		parsed[name] = s
	}

	for k := range dst {
		delete(dst, k)
	}
	for name, id := range parsed {
		dst[name] = id
	}

	return len(parsed), nil
}
