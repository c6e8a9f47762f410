// Package schema derives tool input schemas from Go structs and validates
// model-supplied arguments against them before decoding.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Input is the compiled input schema of a tool whose arguments decode into T.
type Input[T any] struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// New reflects T into a JSON Schema and compiles it. Field names follow the
// json tags; fields without omitempty are required and unknown properties
// are rejected.
func New[T any](name string) (*Input[T], error) {
	r := &invopop.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	reflected, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		return nil, fmt.Errorf("reflect %s schema: %w", name, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(reflected, &doc); err != nil {
		return nil, fmt.Errorf("decode %s schema: %w", name, err)
	}
	// Providers expect a bare object schema.
	delete(doc, "$schema")
	delete(doc, "$id")
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s schema: %w", name, err)
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &Input[T]{raw: raw, compiled: compiled}, nil
}

// Must is like New but panics on error. Intended for package-level schemas
// built from static types.
func Must[T any](name string) *Input[T] {
	s, err := New[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

// JSON returns the schema document advertised to the model.
func (s *Input[T]) JSON() json.RawMessage {
	return s.raw
}

// Decode validates params and unmarshals them into T. Empty params are
// treated as an empty object.
func (s *Input[T]) Decode(params json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(params)) == 0 {
		params = json.RawMessage(`{}`)
	}

	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return out, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if err := s.compiled.Validate(instance); err != nil {
		return out, describe(err)
	}
	if err := json.Unmarshal(params, &out); err != nil {
		return out, fmt.Errorf("invalid arguments: %w", err)
	}
	return out, nil
}

// describe flattens a validation error into its leaf causes.
func describe(err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return fmt.Errorf("invalid arguments: %s", strings.Join(leaves, "; "))
}
