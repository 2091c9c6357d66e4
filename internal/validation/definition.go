// Package validation checks flow definitions for correctness before they are
// stored or executed. Uses JSON Schema Draft 2020-12 for structural validation
// plus graph checks the schema cannot express.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/leadstack/flowengine/pkg/schema"
)

// flowSchemaJSON is the JSON Schema for FlowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowengine.dev/schemas/flow.json",
  "type": "object",
  "required": ["id", "entry_node", "nodes"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "tenant_id": { "type": "string" },
    "active": { "type": "boolean" },
    "entry_node": { "type": "string", "minLength": 1 },
    "schedule": { "type": "string" },
    "metadata": { "type": "object" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "minLength": 1 },
        "config": { "type": "object" },
        "next": { "type": "string" },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        }
      },
      "additionalProperties": false
    }
  }
}`

// TypeLookup reports whether a node type tag is registered. Satisfied by the
// executor registry; nil skips type existence checks.
type TypeLookup interface {
	Has(nodeType string) bool
}

// DefinitionValidator validates flow definitions structurally and
// graph-semantically. Safe for concurrent use.
type DefinitionValidator struct {
	flowSchema *jsonschema.Schema
	types      TypeLookup
}

// NewDefinitionValidator creates a DefinitionValidator with the flow schema
// pre-compiled. lookup may be nil to skip node type checks.
func NewDefinitionValidator(lookup TypeLookup) (*DefinitionValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource("https://flowengine.dev/schemas/flow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}

	compiled, err := c.Compile("https://flowengine.dev/schemas/flow.json")
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	return &DefinitionValidator{flowSchema: compiled, types: lookup}, nil
}

// Validate checks a definition and returns a VALIDATION_ERROR describing the
// first problem found, or nil.
func (v *DefinitionValidator) Validate(def *schema.FlowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "flow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize flow definition").WithCause(err)
	}
	if err := v.flowSchema.Validate(doc); err != nil {
		return toValidationError(err)
	}

	return v.validateGraph(def)
}

// validateGraph runs the checks JSON Schema cannot express: unique node IDs,
// resolvable edges, a known entry node, and registered node types.
func (v *DefinitionValidator) validateGraph(def *schema.FlowDefinition) error {
	seen := make(map[string]struct{}, len(def.Nodes))
	for _, node := range def.Nodes {
		if _, exists := seen[node.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate node id %q", node.ID)
		}
		seen[node.ID] = struct{}{}
	}

	if _, ok := seen[def.EntryNode]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"entry node %q not found", def.EntryNode)
	}

	for _, node := range def.Nodes {
		if node.Next != "" {
			if _, ok := seen[node.Next]; !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"node %q points to unknown next node %q", node.ID, node.Next).
					WithNode(node.ID)
			}
		}
		if v.types != nil && !v.types.Has(node.Type) {
			return schema.NewErrorf(schema.ErrCodeUnknownNodeType,
				"node %q uses unregistered type %q", node.ID, node.Type).
				WithNode(node.ID)
		}
	}

	return nil
}

// toValidationError flattens a jsonschema validation error into a FlowError
// carrying the individual violations as details.
func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	var violations []string
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := "/"
			if len(v.InstanceLocation) > 0 {
				loc = "/" + strings.Join(v.InstanceLocation, "/")
			}
			violations = append(violations, fmt.Sprintf("%s: %s", loc, v.Error()))
			return
		}
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(verr)

	return schema.NewError(schema.ErrCodeValidation, "flow definition is invalid").
		WithDetails(map[string]any{"violations": violations})
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
