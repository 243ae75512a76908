package schema

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Issue is one schema violation. Path is the dotted field key path.
type Issue struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ParseNode parses a fields mapping node, preserving declaration order.
// Duplicate keys and unknown kinds are reported as issues and skipped; the
// first occurrence of a duplicated key wins.
func ParseNode(node *yaml.Node) (Schema, []Issue) {
	return parseNode("", node)
}

func parseNode(prefix string, node *yaml.Node) (Schema, []Issue) {
	if node == nil {
		return nil, nil
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, []Issue{{Path: prefix, Message: fmt.Sprintf("fields must be a mapping (line %d)", node.Line)}}
	}

	var (
		schema Schema
		issues []Issue
		seen   = make(map[string]int)
	)

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		path := joinPath(prefix, key)

		if first, dup := seen[key]; dup {
			issues = append(issues, Issue{
				Path:    path,
				Message: fmt.Sprintf("duplicate field key (line %d, first defined on line %d)", keyNode.Line, first),
			})
			continue
		}
		seen[key] = keyNode.Line

		field, fieldIssues := parseFieldNode(path, valueNode)
		issues = append(issues, fieldIssues...)
		if field != nil {
			schema = append(schema, Entry{Key: key, Field: field})
		}
	}

	return schema, issues
}

func parseFieldNode(path string, node *yaml.Node) (Field, []Issue) {
	if node.Kind != yaml.MappingNode {
		return nil, []Issue{{Path: path, Message: fmt.Sprintf("field definition must be a mapping (line %d)", node.Line)}}
	}

	var nested *yaml.Node
	raw := make(map[string]interface{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Value == "fields" {
			nested = v
			continue
		}
		var value interface{}
		if err := v.Decode(&value); err != nil {
			return nil, []Issue{{Path: path, Message: fmt.Sprintf("invalid %s: %v", k.Value, err)}}
		}
		raw[k.Value] = value
	}

	return decodeField(path, raw, func() (Schema, []Issue) {
		return parseNode(path, nested)
	})
}

// ParseMap parses fields decoded into a plain map. Maps carry no order, so
// entries are sorted by key.
func ParseMap(fields map[string]interface{}) (Schema, []Issue) {
	return parseMap("", fields)
}

func parseMap(prefix string, fields map[string]interface{}) (Schema, []Issue) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		schema Schema
		issues []Issue
	)

	for _, key := range keys {
		path := joinPath(prefix, key)

		var raw map[string]interface{}
		switch v := fields[key].(type) {
		case map[string]interface{}:
			raw = make(map[string]interface{}, len(v))
			for k, val := range v {
				raw[k] = val
			}
		default:
			issues = append(issues, Issue{Path: path, Message: "field definition must be a mapping"})
			continue
		}

		var nested func() (Schema, []Issue)
		if sub, ok := raw["fields"]; ok {
			delete(raw, "fields")
			nested = func() (Schema, []Issue) {
				subMap, ok := sub.(map[string]interface{})
				if !ok {
					return nil, []Issue{{Path: path, Message: "fields must be a mapping"}}
				}
				return parseMap(path, subMap)
			}
		}

		field, fieldIssues := decodeField(path, raw, nested)
		issues = append(issues, fieldIssues...)
		if field != nil {
			schema = append(schema, Entry{Key: key, Field: field})
		}
	}

	return schema, issues
}

// decodeField builds the kind struct for one raw field definition.
func decodeField(path string, raw map[string]interface{}, nested func() (Schema, []Issue)) (Field, []Issue) {
	typeName, _ := raw["type"].(string)
	if typeName == "" {
		return nil, []Issue{{Path: path, Message: "field type is required"}}
	}

	kind, ok := ParseKind(typeName)
	if !ok {
		return nil, []Issue{{Path: path, Message: fmt.Sprintf("unknown field type %q", typeName)}}
	}
	delete(raw, "type")

	field, err := newField(kind)
	if err != nil {
		return nil, []Issue{{Path: path, Message: err.Error()}}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       optionHook,
		Result:           field,
	})
	if err != nil {
		return nil, []Issue{{Path: path, Message: err.Error()}}
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, []Issue{{Path: path, Message: fmt.Sprintf("invalid %s field: %v", kind, err)}}
	}

	var issues []Issue
	if rep, ok := field.(*RepeaterField); ok && nested != nil {
		var nestedIssues []Issue
		rep.Fields, nestedIssues = nested()
		issues = append(issues, nestedIssues...)
	}

	switch f := field.(type) {
	case *SelectField:
		f.Options = normalizeOptions(f.Options)
	case *MultiSelectField:
		f.Options = normalizeOptions(f.Options)
	}

	return field, issues
}

var optionType = reflect.TypeOf(Option{})

// optionHook lets options be written either as bare strings or as
// {label, value} mappings.
func optionHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != optionType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return Option{Label: v, Value: v}, nil
	case int, int64, float64, bool:
		s := fmt.Sprint(v)
		return Option{Label: s, Value: s}, nil
	}
	return data, nil
}

func normalizeOptions(options []Option) []Option {
	for i := range options {
		if options[i].Value == "" {
			options[i].Value = options[i].Label
		}
		if options[i].Label == "" {
			options[i].Label = options[i].Value
		}
	}
	return options
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
