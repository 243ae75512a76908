package schema

import (
	"fmt"
)

// Validate checks the structural rules of a parsed schema and returns every
// violation found. An empty result means the schema is usable.
func Validate(s Schema) []Issue {
	return validate("", s)
}

func validate(prefix string, s Schema) []Issue {
	var issues []Issue
	seen := make(map[string]bool, len(s))

	for _, e := range s {
		path := joinPath(prefix, e.Key)

		if e.Key == "" {
			issues = append(issues, Issue{Path: prefix, Message: "field key cannot be empty"})
		}
		if seen[e.Key] {
			issues = append(issues, Issue{Path: path, Message: "duplicate field key"})
		}
		seen[e.Key] = true

		if e.Field == nil {
			issues = append(issues, Issue{Path: path, Message: "field definition is missing"})
			continue
		}

		issues = append(issues, validateField(path, e.Field)...)
	}

	return issues
}

func validateField(path string, field Field) []Issue {
	var issues []Issue
	add := func(format string, args ...interface{}) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch f := field.(type) {
	case *TextField:
		if f.MaxLength < 0 {
			add("maxLength cannot be negative")
		}
	case *TextareaField:
		if f.Rows < 0 {
			add("rows cannot be negative")
		}
	case *RichTextField, *DateField, *LinkField, *ToggleField, *ColorField:
	case *MediaField:
	case *NumberField:
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			add("min %v is greater than max %v", *f.Min, *f.Max)
		}
	case *SelectField:
		if len(f.Options) == 0 {
			add("select field requires at least one option")
		}
		issues = append(issues, validateOptions(path, f.Options)...)
		if def, ok := f.Default.(string); ok && def != "" && !containsValue(f.Options, def) {
			add("default %q is not one of the options", def)
		}
	case *MultiSelectField:
		if len(f.Options) == 0 {
			add("multiselect field requires at least one option")
		}
		issues = append(issues, validateOptions(path, f.Options)...)
	case *SliderField:
		if f.Min >= f.Max {
			add("slider min %v must be less than max %v", f.Min, f.Max)
		}
		if f.Step < 0 {
			add("slider step cannot be negative")
		}
	case *RepeaterField:
		if len(f.Fields) == 0 {
			add("repeater field requires a nested fields schema")
		}
		if f.MaxItems > 0 && f.MinItems > f.MaxItems {
			add("minItems %d is greater than maxItems %d", f.MinItems, f.MaxItems)
		}
		issues = append(issues, validate(path, f.Fields)...)
	default:
		add("unsupported field kind %T", field)
	}

	return issues
}

func validateOptions(path string, options []Option) []Issue {
	var issues []Issue
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if o.Value == "" {
			issues = append(issues, Issue{Path: path, Message: "option value cannot be empty"})
			continue
		}
		if seen[o.Value] {
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("duplicate option %q", o.Value)})
		}
		seen[o.Value] = true
	}
	return issues
}

func containsValue(options []Option, value string) bool {
	for _, o := range options {
		if o.Value == value {
			return true
		}
	}
	return false
}
