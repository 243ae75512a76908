package schema

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// fieldView is the serialized form of a field in API responses and listings.
type fieldView struct {
	Type        Kind        `json:"type" yaml:"type"`
	Label       string      `json:"label,omitempty" yaml:"label,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Options     []Option    `json:"options,omitempty" yaml:"options,omitempty"`
	Min         *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	Step        float64     `json:"step,omitempty" yaml:"step,omitempty"`
	Fields      Schema      `json:"fields,omitempty" yaml:"fields,omitempty"`
}

func viewOf(field Field) fieldView {
	base := field.Base()
	v := fieldView{
		Type:        field.Kind(),
		Label:       base.Label,
		Description: base.Description,
		Required:    base.Required,
		Default:     base.Default,
	}

	switch f := field.(type) {
	case *SelectField:
		v.Options = f.Options
	case *MultiSelectField:
		v.Options = f.Options
	case *NumberField:
		v.Min, v.Max, v.Step = f.Min, f.Max, f.Step
	case *SliderField:
		minV, maxV := f.Min, f.Max
		v.Min, v.Max, v.Step = &minV, &maxV, f.Step
	case *RepeaterField:
		v.Fields = f.Fields
	}

	return v
}

// MarshalJSON encodes the schema as a JSON object in declaration order.
func (s Schema) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(viewOf(e.Field))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML encodes the schema as a YAML mapping in declaration order.
func (s Schema) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range s {
		value := &yaml.Node{}
		if err := value.Encode(viewOf(e.Field)); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Key},
			value,
		)
	}
	return node, nil
}
