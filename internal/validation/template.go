package validation

import (
	"encoding/json"

	"github.com/ledren/cadent/pkg/schema"
)

// TemplateValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (unique ids, agent refs, loop refs)
//
// Validation is exhaustive and happens once, at load time, so the state
// machine never re-checks that a referenced agent or loop exists.
type TemplateValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewTemplateValidator creates a TemplateValidator.
func NewTemplateValidator() (*TemplateValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &TemplateValidator{jsonSchema: jsv}, nil
}

// Check runs the full pipeline over a parsed document and returns the
// aggregated result plus the built template (nil when there are errors).
// Structural errors short-circuit: the semantic stage is skipped.
func (tv *TemplateValidator) Check(doc any) (*schema.WorkflowTemplate, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	// Stage 1: Structural (JSON Schema).
	if err := tv.jsonSchema.ValidateDocument(doc); err != nil {
		mergeStructural(err, result)
		return nil, result
	}

	decoded, err := decodeDoc(doc)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}

	// Stage 2: Semantic.
	result.Merge(validateSemantic(decoded))
	if !result.Valid() {
		return nil, result
	}

	tpl, err := buildTemplate(decoded)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}
	return tpl, result
}

// Validate runs the pipeline and returns the template, or a CadentError
// carrying every issue found.
func (tv *TemplateValidator) Validate(doc any) (*schema.WorkflowTemplate, error) {
	tpl, result := tv.Check(doc)
	if err := result.ToError(); err != nil {
		return nil, err
	}
	return tpl, nil
}

// mergeStructural converts structural-stage error output into the result.
func mergeStructural(err error, result *schema.ValidationResult) {
	cerr, ok := err.(*schema.CadentError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}

	if cerr.Details != nil {
		if violations, ok := cerr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return
		}
	}
	result.AddError("/", schema.ErrCodeValidation, cerr.Message)
}

// decodeDoc converts the parsed document into the typed wire form.
func decodeDoc(doc any) (*templateDoc, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to serialize template document").WithCause(err)
	}
	var decoded templateDoc
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to decode template document").WithCause(err)
	}
	return &decoded, nil
}

// buildTemplate assembles the immutable WorkflowTemplate from a fully
// validated document, reconstructing the step union.
func buildTemplate(doc *templateDoc) (*schema.WorkflowTemplate, error) {
	steps := make([]schema.Step, len(doc.Steps))
	for i, d := range doc.Steps {
		s, err := schema.DecodeStep(d)
		if err != nil {
			return nil, err
		}
		steps[i] = s
	}
	return &schema.WorkflowTemplate{
		Name:        doc.Name,
		Description: doc.Description,
		Agents:      doc.Agents,
		Loops:       doc.Loops,
		Steps:       steps,
	}, nil
}
