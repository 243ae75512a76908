package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ConfigDocument is the shape of a resource config file. It is used only to
// reflect a JSON Schema for structural validation; fields are parsed by
// ParseNode/ParseMap so that declaration order survives.
type ConfigDocument struct {
	DisplayName string                   `yaml:"displayName,omitempty" jsonschema:"description=Human readable name shown in listings"`
	Description string                   `yaml:"description,omitempty"`
	Category    string                   `yaml:"category,omitempty"`
	Entry       string                   `yaml:"entry,omitempty" jsonschema:"description=Entry source file relative to the resource root"`
	Tags        []string                 `yaml:"tags,omitempty"`
	Fields      map[string]FieldDocument `yaml:"fields,omitempty"`
}

// FieldDocument is the declared form of one field.
type FieldDocument struct {
	Type        string                   `yaml:"type" jsonschema:"required,minLength=1"`
	Label       string                   `yaml:"label,omitempty"`
	Description string                   `yaml:"description,omitempty"`
	Required    bool                     `yaml:"required,omitempty"`
	Default     interface{}              `yaml:"default,omitempty"`
	Placeholder string                   `yaml:"placeholder,omitempty"`
	MaxLength   int                      `yaml:"maxLength,omitempty" jsonschema:"minimum=0"`
	Rows        int                      `yaml:"rows,omitempty" jsonschema:"minimum=0"`
	Min         *float64                 `yaml:"min,omitempty"`
	Max         *float64                 `yaml:"max,omitempty"`
	Step        float64                  `yaml:"step,omitempty"`
	Accept      []string                 `yaml:"accept,omitempty"`
	Options     []interface{}            `yaml:"options,omitempty"`
	MinItems    int                      `yaml:"minItems,omitempty" jsonschema:"minimum=0"`
	MaxItems    int                      `yaml:"maxItems,omitempty" jsonschema:"minimum=0"`
	Fields      map[string]FieldDocument `yaml:"fields,omitempty"`
}

// GenerateConfigSchema reflects the JSON Schema for resource config files.
func GenerateConfigSchema() ([]byte, error) {
	r := &invopop.Reflector{
		// Unknown top-level keys are tolerated so configs can carry editor metadata.
		AllowAdditionalProperties: true,
		Anonymous:                 true,
		FieldNameTag:              "yaml",
	}

	s := r.Reflect(&ConfigDocument{})
	s.Title = "blockforge resource config"
	s.Description = "Schema for config.yaml / config.json / config.toml in a block or template directory."

	return json.MarshalIndent(s, "", "  ")
}

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		data, err := GenerateConfigSchema()
		if err != nil {
			configSchemaErr = fmt.Errorf("failed to generate config schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("resource-config.json", bytes.NewReader(data)); err != nil {
			configSchemaErr = fmt.Errorf("failed to add config schema resource: %w", err)
			return
		}

		configSchema, configSchemaErr = compiler.Compile("resource-config.json")
	})

	return configSchema, configSchemaErr
}

// ValidateConfigDocument checks a decoded config document against the
// reflected config schema.
func ValidateConfigDocument(doc interface{}) error {
	s, err := compiledConfigSchema()
	if err != nil {
		return err
	}
	return validateAgainst(s, doc)
}

// PreviewStateSchema builds the JSON Schema document that preview state for
// s must satisfy. Keys not declared in s are allowed so that state saved
// before a schema edit still loads.
func PreviewStateSchema(s Schema) map[string]interface{} {
	return objectSchema(s)
}

func objectSchema(s Schema) map[string]interface{} {
	properties := make(map[string]interface{}, len(s))
	for _, e := range s {
		properties[e.Key] = valueSchema(e.Field)
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
}

func valueSchema(field Field) map[string]interface{} {
	switch f := field.(type) {
	case *TextField:
		out := map[string]interface{}{"type": "string"}
		if f.MaxLength > 0 {
			out["maxLength"] = f.MaxLength
		}
		return out
	case *TextareaField, *RichTextField, *DateField, *MediaField, *ColorField:
		return map[string]interface{}{"type": "string"}
	case *NumberField:
		out := map[string]interface{}{"type": "number"}
		if f.Min != nil {
			out["minimum"] = *f.Min
		}
		if f.Max != nil {
			out["maximum"] = *f.Max
		}
		return out
	case *SliderField:
		return map[string]interface{}{"type": "number", "minimum": f.Min, "maximum": f.Max}
	case *ToggleField:
		return map[string]interface{}{"type": "boolean"}
	case *LinkField:
		return map[string]interface{}{
			"anyOf": []interface{}{
				map[string]interface{}{"type": "string"},
				map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"href":  map[string]interface{}{"type": "string"},
						"label": map[string]interface{}{"type": "string"},
					},
				},
			},
		}
	case *SelectField:
		return map[string]interface{}{"enum": enumValues(f.Options, true)}
	case *MultiSelectField:
		out := map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"enum": enumValues(f.Options, false)},
		}
		if f.MaxItems > 0 {
			out["maxItems"] = f.MaxItems
		}
		return out
	case *RepeaterField:
		out := map[string]interface{}{
			"type":  "array",
			"items": objectSchema(f.Fields),
		}
		if f.MaxItems > 0 {
			out["maxItems"] = f.MaxItems
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

func enumValues(options []Option, allowEmpty bool) []interface{} {
	values := make([]interface{}, 0, len(options)+1)
	for _, v := range optionValues(options) {
		values = append(values, v)
	}
	if allowEmpty {
		values = append(values, "")
	}
	return values
}

// CompilePreviewState compiles the preview-state JSON Schema for s.
func CompilePreviewState(s Schema) (*jsonschema.Schema, error) {
	data, err := json.Marshal(PreviewStateSchema(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode preview state schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("preview-state.json", bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to add preview state schema: %w", err)
	}

	return compiler.Compile("preview-state.json")
}

// ValidatePreviewState checks state against the schema of its resource.
func ValidatePreviewState(s Schema, state map[string]interface{}) error {
	compiled, err := CompilePreviewState(s)
	if err != nil {
		return err
	}
	return validateAgainst(compiled, state)
}

func validateAgainst(s *jsonschema.Schema, value interface{}) error {
	// Round-trip through JSON so numbers and nested maps have the types the
	// validator expects regardless of which decoder produced them.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal document for validation: %w", err)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to unmarshal document for validation: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			var messages []string
			collectErrors(validationErr, &messages)
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(messages, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// collectErrors recursively collects leaf validation messages.
func collectErrors(err *jsonschema.ValidationError, messages *[]string) {
	if len(err.Causes) == 0 {
		location := err.InstanceLocation
		if location == "" {
			location = "/"
		}
		*messages = append(*messages, fmt.Sprintf("- %s: %s", location, err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
