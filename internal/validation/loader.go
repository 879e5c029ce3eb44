package validation

import (
	"os"

	"github.com/ledren/cadent/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Parse validates a raw template document (YAML or JSON; JSON is a subset
// of YAML) and returns the built template.
func (tv *TemplateValidator) Parse(data []byte) (*schema.WorkflowTemplate, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"malformed template document: %s", err.Error()).WithCause(err)
	}
	return tv.Validate(doc)
}

// Load reads a template document from disk and validates it. This is the
// only file I/O in the loader; everything else is pure.
func (tv *TemplateValidator) Load(path string) (*schema.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"read template %s: %s", path, err.Error()).WithCause(err)
	}
	return tv.Parse(data)
}

// CheckFile reads a template document from disk and runs the full pipeline,
// returning warnings alongside errors instead of collapsing them into one
// error. Used by the validate command.
func (tv *TemplateValidator) CheckFile(path string) (*schema.WorkflowTemplate, *schema.ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation,
			"read template %s: %s", path, err.Error()).WithCause(err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation,
			"malformed template document: %s", err.Error()).WithCause(err)
	}
	tpl, result := tv.Check(doc)
	return tpl, result, nil
}
