package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ArgumentError reports a tools/call whose arguments failed schema
// validation: unknown parameters, missing required ones, or type mismatches.
type ArgumentError struct {
	Tool    string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Message)
}

// compileSchema turns a tool's input schema document into a validator.
// Every generated schema carries additionalProperties:false, so unknown
// arguments fail here instead of reaching a handler.
func compileSchema(toolName string, schemaDoc map[string]interface{}) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("tool %s: cannot serialize schema: %w", toolName, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	resource := fmt.Sprintf("tool://%s/schema.json", toolName)
	if err := compiler.AddResource(resource, strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("tool %s: cannot load schema: %w", toolName, err)
	}

	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("tool %s: cannot compile schema: %w", toolName, err)
	}
	return schema, nil
}

// validateArgs checks a tools/call argument map against the compiled schema.
func validateArgs(toolName string, schema *jsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	// The validator works on plain JSON values; the arguments already are.
	var doc interface{} = map[string]interface{}(args)
	if args == nil {
		doc = map[string]interface{}{}
	}

	if err := schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			return &ArgumentError{Tool: toolName, Message: leafMessage(validationErr)}
		}
		return &ArgumentError{Tool: toolName, Message: err.Error()}
	}
	return nil
}

// leafMessage digs out the most specific cause of a validation failure; the
// root error is usually just "doesn't validate".
func leafMessage(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	if err.InstanceLocation != "" {
		return fmt.Sprintf("%s: %s", strings.TrimPrefix(err.InstanceLocation, "/"), err.Message)
	}
	return err.Message
}
