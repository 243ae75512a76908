package schema

// DefaultContent derives the initial preview content for a schema: each
// field's declared default, or a neutral value for its kind.
func DefaultContent(s Schema) map[string]interface{} {
	content := make(map[string]interface{}, len(s))
	for _, e := range s {
		content[e.Key] = defaultValue(e.Field)
	}
	return content
}

func defaultValue(field Field) interface{} {
	if def := field.Base().Default; def != nil {
		return def
	}

	switch f := field.(type) {
	case *TextField, *TextareaField, *RichTextField, *DateField, *MediaField:
		return ""
	case *ColorField:
		return "#000000"
	case *LinkField:
		return map[string]interface{}{"href": "", "label": ""}
	case *NumberField:
		if f.Min != nil {
			return *f.Min
		}
		return 0
	case *SliderField:
		return f.Min
	case *ToggleField:
		return false
	case *SelectField:
		if f.Required && len(f.Options) > 0 {
			return f.Options[0].Value
		}
		return ""
	case *MultiSelectField:
		return []interface{}{}
	case *RepeaterField:
		items := make([]interface{}, 0, f.MinItems)
		for i := 0; i < f.MinItems; i++ {
			items = append(items, DefaultContent(f.Fields))
		}
		return items
	default:
		return nil
	}
}
