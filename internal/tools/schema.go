package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache memoizes compiled schemas per (name, schema bytes); tools are
// registered once but validated on every call.
var schemaCache sync.Map // string -> *jsonschema.Schema

func compile(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "tool://" + name + "/parameters.json"
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("tools: schema for %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tools: schema for %q: %w", name, err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// CompileSchema checks that a tool's parameter schema is itself valid.
func CompileSchema(name string, schema json.RawMessage) error {
	_, err := compile(name, schema)
	return err
}

// ValidateAgainstSchema checks args against a compiled schema.
func ValidateAgainstSchema(name string, schema, args json.RawMessage) error {
	compiled, err := compile(name, schema)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("tools: args for %q are not valid JSON: %w", name, err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("tools: args for %q: %w", name, err)
	}
	return nil
}
