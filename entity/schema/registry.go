// Package schema holds the declarative per-type schemas event data entries
// are validated against. Schemas are data; the validator is a generic
// traverser, so registering a new type never touches validation code.
package schema

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Error is one structured schema failure, in document order.
type Error struct {
	DataPath string
	Message  string
}

// Registry maps entry type strings to compiled schemas. A shared entry
// schema applies to every entry regardless of type.
type Registry struct {
	shared  *gojsonschema.Schema
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry compiles the shared entry schema and all predefined type
// schemas.
func NewRegistry() (*Registry, error) {
	shared, err := compile(sharedEntrySchema)
	if err != nil {
		return nil, errors.Wrap(err, "shared entry schema")
	}
	r := &Registry{shared: shared, schemas: make(map[string]*gojsonschema.Schema)}
	for typeName, doc := range predefinedSchemas {
		if err := r.Register(typeName, doc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles and installs a schema document for the given type.
func (r *Registry) Register(typeName, schemaJSON string) error {
	compiled, err := compile(schemaJSON)
	if err != nil {
		return errors.Wrapf(err, "schema for type %q", typeName)
	}
	r.schemas[typeName] = compiled
	return nil
}

// IsRegistered reports whether a type carries a dedicated schema.
func (r *Registry) IsRegistered(typeName string) bool {
	_, ok := r.schemas[typeName]
	return ok
}

// ValidateEntry checks an entry against the shared schema and, when its
// type is registered, against the type schema. Unrecognized types only need
// to satisfy the shared shape. The returned slice is empty for valid
// entries.
func (r *Registry) ValidateEntry(entry map[string]interface{}) ([]Error, error) {
	failures, err := validate(r.shared, entry)
	if err != nil || len(failures) > 0 {
		return failures, err
	}
	typeName, _ := entry["type"].(string)
	typed, ok := r.schemas[typeName]
	if !ok {
		return nil, nil
	}
	return validate(typed, entry)
}

func compile(doc string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
}

func validate(schema *gojsonschema.Schema, entry map[string]interface{}) ([]Error, error) {
	result, err := schema.Validate(gojsonschema.NewGoLoader(entry))
	if err != nil {
		return nil, errors.Wrap(err, "schema validation failed")
	}
	if result.Valid() {
		return nil, nil
	}
	failures := make([]Error, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		failures = append(failures, Error{
			DataPath: fieldToDataPath(re.Field()),
			Message:  re.Description(),
		})
	}
	return failures, nil
}

// fieldToDataPath renders gojsonschema's dotted field as a dataPath in the
// ".a.b[0]" style external clients expect.
func fieldToDataPath(field string) string {
	if field == "" || field == "(root)" {
		return ""
	}
	var b strings.Builder
	for _, part := range strings.Split(field, ".") {
		if isIndex(part) {
			b.WriteString("[")
			b.WriteString(part)
			b.WriteString("]")
			continue
		}
		b.WriteString(".")
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
