// Package schema builds tool definitions from Go types and decodes the
// arguments of collected tool calls back into them.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/i2y/llmgateway/provider"
)

// Reflector is configured for tool parameter schemas.
// DoNotReference inlines all definitions to avoid $ref.
var Reflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// Generate creates a JSON Schema from a Go type, without the "$schema"
// and "$id" keywords.
//
// Example:
//
//	type Weather struct {
//	    City string `json:"city" jsonschema:"required,description=City name"`
//	    Days int    `json:"days,omitempty"`
//	}
//
//	params, err := schema.Generate[Weather]()
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	return GenerateFromValue(&zero)
}

// GenerateFromValue creates a JSON Schema from a value.
func GenerateFromValue(v any) (json.RawMessage, error) {
	s := Reflector.Reflect(v)
	s.Version = ""
	s.ID = ""
	return json.Marshal(s)
}

// Tool returns a tool definition whose parameters are the schema of T.
func Tool[T any](name, description string) (provider.ToolDef, error) {
	if name == "" {
		return provider.ToolDef{}, provider.Errorf(provider.KindValidation, "tool name is required")
	}
	params, err := Generate[T]()
	if err != nil {
		return provider.ToolDef{}, fmt.Errorf("generating schema for tool %q: %w", name, err)
	}
	return provider.ToolDef{Name: name, Description: description, Parameters: params}, nil
}

// MustTool is like Tool but panics on error.
// Useful for package-level tool definitions.
func MustTool[T any](name, description string) provider.ToolDef {
	def, err := Tool[T](name, description)
	if err != nil {
		panic(err)
	}
	return def
}

// Arguments decodes the arguments of a completed tool call into T.
func Arguments[T any](call provider.ToolCall) (T, error) {
	var v T
	raw := call.Arguments
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, &provider.Error{Kind: provider.KindValidation, Message: fmt.Sprintf("decoding arguments of tool %q", call.Name), Cause: err}
	}
	return v, nil
}
