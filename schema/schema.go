// Package schema builds and validates the JSON Schemas that describe event
// parameters and tool arguments.
//
// # Quick Start
//
//	desc := mantle.EventDescriptor{
//	    Name: "myapp:cache_hit",
//	    Kind: mantle.KindSignal,
//	    Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
//	        "key":   schema.String("Cache key"),
//	        "bytes": schema.Integer("Entry size").Min(0),
//	    }, "key")),
//	}
//
// The event bus and the tool coordinator validate parameter maps against the
// compiled schema before handlers or tools ever see them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled parameter schema. It keeps the raw map form — the
// shape handed to model providers as a tool's parameter declaration — next
// to the compiled validator the dispatchers check against.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// Raw returns the map form, suitable for llms.FunctionDefinition
// parameters. Nil for a nil Schema.
func (s *Schema) Raw() map[string]any {
	if s == nil {
		return nil
	}
	return s.raw
}

// Validate checks a parameter map against the schema. A nil Schema
// validates everything, so descriptors and tools may omit one. Returns nil
// if valid, or a *ValidationError describing the failure.
func (s *Schema) Validate(data map[string]any) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	if err := s.compiled.Validate(anyMap(data)); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// anyMap widens a params map for the validator, which expects plain
// map[string]any values all the way down. A nil map validates as an empty
// object rather than JSON null.
func anyMap(data map[string]any) any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

// ValidationError reports a parameter map that does not fit its declared
// schema: an event dispatched with bad params, or a tool called with bad
// arguments.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Compile turns a raw schema map — usually built with Object and the
// property constructors below, or parsed from a profile — into a validating
// Schema. A nil map compiles to a nil Schema, which validates everything.
func Compile(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Schema{raw: raw, compiled: compiled}, nil
}

// MustCompile is like Compile but panics on error. Use for schemas defined
// at init time, e.g. the built-in event descriptors.
func MustCompile(raw map[string]any) *Schema {
	s, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// -----------------------------------------------------------------------------
// Schema Builders
// -----------------------------------------------------------------------------

// Object creates an object schema with the given properties. Pass property
// names as variadic arguments to mark them as required.
//
// Example:
//
//	schema.Object(map[string]*schema.Property{
//	    "mode":   schema.String("Mode name"),
//	    "params": schema.Any("Entry parameters"),
//	}, "mode")
func Object(properties map[string]*Property, required ...string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, prop := range properties {
		props[name] = prop.build()
	}

	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Property represents a single property in an object schema.
type Property struct {
	typ         string
	description string
	enum        []any
	minimum     *float64
	maximum     *float64
	items       map[string]any
	def         any
}

func (p *Property) build() map[string]any {
	m := map[string]any{}

	if p.typ != "" {
		m["type"] = p.typ
	}
	if p.description != "" {
		m["description"] = p.description
	}
	if len(p.enum) > 0 {
		m["enum"] = p.enum
	}
	if p.minimum != nil {
		m["minimum"] = *p.minimum
	}
	if p.maximum != nil {
		m["maximum"] = *p.maximum
	}
	if p.items != nil {
		m["items"] = p.items
	}
	if p.def != nil {
		m["default"] = p.def
	}
	return m
}

// String creates a string property.
func String(description string) *Property {
	return &Property{typ: "string", description: description}
}

// Integer creates an integer property.
func Integer(description string) *Property {
	return &Property{typ: "integer", description: description}
}

// Number creates a floating-point property.
func Number(description string) *Property {
	return &Property{typ: "number", description: description}
}

// Boolean creates a boolean property.
func Boolean(description string) *Property {
	return &Property{typ: "boolean", description: description}
}

// Array creates an array property with the given item schema.
//
// Example:
//
//	schema.Array("Tool names", map[string]any{"type": "string"})
func Array(description string, items map[string]any) *Property {
	return &Property{typ: "array", description: description, items: items}
}

// Any creates an untyped property that accepts any value. Useful for opaque
// payloads such as mode entry parameters.
func Any(description string) *Property {
	return &Property{description: description}
}

// Enum restricts the property to the given values.
//
// Example:
//
//	schema.String("Kind").Enum("signal", "interceptable")
func (p *Property) Enum(values ...any) *Property {
	p.enum = values
	return p
}

// Min sets the minimum value for number/integer properties.
func (p *Property) Min(min float64) *Property {
	p.minimum = &min
	return p
}

// Max sets the maximum value for number/integer properties.
func (p *Property) Max(max float64) *Property {
	p.maximum = &max
	return p
}

// Default sets the default value for the property.
func (p *Property) Default(value any) *Property {
	p.def = value
	return p
}
