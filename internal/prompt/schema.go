package prompt

import (
	"bytes"

	"github.com/go-faster/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBaseURL = "https://schemas.shopwave.local/"

// Schema is a compiled JSON Schema describing a flow's output.
type Schema struct {
	name     string
	doc      map[string]any
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document. The document root must be
// an object schema.
func CompileSchema(name string, doc []byte) (*Schema, error) {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, errors.Wrapf(err, "decode schema %s", name)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Errorf("schema %s: root must be an object", name)
	}

	url := schemaBaseURL + name
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, v); err != nil {
		return nil, errors.Wrapf(err, "add schema %s", name)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema %s", name)
	}

	return &Schema{name: name, doc: root, compiled: compiled}, nil
}

// MustCompileSchema is like CompileSchema but panics on error. It is meant
// for schemas embedded in the binary.
func MustCompileSchema(name string, doc []byte) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string {
	return s.name
}

// Document returns the decoded schema document. Numbers are json.Number.
// The returned map must not be modified.
func (s *Schema) Document() map[string]any {
	return s.doc
}

// Validate checks that out is a JSON document satisfying the schema.
func (s *Schema) Validate(out []byte) error {
	if len(bytes.TrimSpace(out)) == 0 {
		return ErrNoOutput
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(out))
	if err != nil {
		return errors.Wrap(err, "decode output")
	}
	if err := s.compiled.Validate(v); err != nil {
		return errors.Wrap(err, "validate output")
	}
	return nil
}
