package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ledren/cadent/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// templateSchemaJSON is the JSON Schema for the workflow template document.
// Embedded as a constant to avoid filesystem dependencies.
const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cadent.dev/schemas/template.json",
  "type": "object",
  "required": ["name", "description", "steps"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": {
      "type": "string"
    },
    "agents": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/agent" }
    },
    "loops": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "minItems": 1,
        "items": { "$ref": "#/$defs/loop_step" }
      }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "agent": {
      "type": "object",
      "required": ["description"],
      "properties": {
        "description": { "type": "string" },
        "tools": {
          "type": "array",
          "items": { "type": "string" }
        },
        "cannot": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    },
    "loop_step": {
      "type": "object",
      "required": ["id", "instructions"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "agent": { "type": "string" },
        "instructions": {
          "type": "string",
          "minLength": 1
        },
        "on_fail": {
          "type": "string",
          "enum": ["retry", "skip", "abort"]
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["action", "loop", "ralph"]
        },
        "agent": { "type": "string" },
        "instructions": { "type": "string" },
        "n": {
          "type": "integer",
          "minimum": 1
        }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "action" } } },
          "then": { "required": ["instructions"] }
        },
        {
          "if": { "properties": { "type": { "const": "ralph" } } },
          "then": { "required": ["instructions", "n"] }
        }
      ]
    }
  }
}`

// JSONSchemaValidator validates template documents against the embedded
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	templateSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the template
// schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(templateSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal template schema: %w", err)
	}
	if err := c.AddResource("https://cadent.dev/schemas/template.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add template schema resource: %w", err)
	}

	tplSchema, err := c.Compile("https://cadent.dev/schemas/template.json")
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}

	return &JSONSchemaValidator{templateSchema: tplSchema}, nil
}

// ValidateDocument validates a parsed template document against the schema.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "template document is nil")
	}

	jsonDoc, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize template document").WithCause(err)
	}

	if err := v.templateSchema.Validate(jsonDoc); err != nil {
		return toCadentError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toCadentError converts a jsonschema.ValidationError into a CadentError
// with clear, actionable messages for agent consumption.
func toCadentError(err error) *schema.CadentError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("template validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
