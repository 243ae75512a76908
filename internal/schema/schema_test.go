package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func parseYAML(t *testing.T, src string) (Schema, []Issue) {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))
	return ParseNode(&node)
}

func TestParseNodePreservesOrder(t *testing.T) {
	s, issues := parseYAML(t, `
zeta:
  type: text
  label: Zeta
alpha:
  type: number
  min: 1
  max: 10
middle:
  type: toggle
`)
	require.Empty(t, issues)
	assert.Equal(t, []string{"zeta", "alpha", "middle"}, s.Keys())

	num, ok := s.Get("alpha")
	require.True(t, ok)
	nf, ok := num.(*NumberField)
	require.True(t, ok)
	require.NotNil(t, nf.Min)
	assert.Equal(t, 1.0, *nf.Min)
	assert.Equal(t, 10.0, *nf.Max)
}

func TestParseNodeAliases(t *testing.T) {
	s, issues := parseYAML(t, `
heading:
  type: singleLine
  required: true
body:
  type: richText
flags:
  type: multiSelect
  options: [a, b]
`)
	require.Empty(t, issues)
	require.Len(t, s, 3)

	heading, _ := s.Get("heading")
	assert.Equal(t, KindText, heading.Kind())
	assert.True(t, heading.Base().Required)

	body, _ := s.Get("body")
	assert.Equal(t, KindRichText, body.Kind())

	flags, _ := s.Get("flags")
	assert.Equal(t, KindMultiSelect, flags.Kind())
}

func TestParseNodeDuplicateKeys(t *testing.T) {
	s, issues := parseYAML(t, `
title:
  type: text
title:
  type: textarea
`)
	require.Len(t, issues, 1)
	assert.Equal(t, "title", issues[0].Path)
	assert.Contains(t, issues[0].Message, "duplicate field key")

	require.Len(t, s, 1)
	field, _ := s.Get("title")
	assert.Equal(t, KindText, field.Kind(), "first occurrence wins")
}

func TestParseNodeUnknownKind(t *testing.T) {
	s, issues := parseYAML(t, `
hologram:
  type: hologram
ok:
  type: color
`)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, `unknown field type "hologram"`)
	assert.Equal(t, []string{"ok"}, s.Keys())
}

func TestParseNodeOptions(t *testing.T) {
	s, issues := parseYAML(t, `
size:
  type: select
  options:
    - small
    - label: Large
      value: lg
    - value: xl
`)
	require.Empty(t, issues)

	field, _ := s.Get("size")
	sel := field.(*SelectField)
	assert.Equal(t, []Option{
		{Label: "small", Value: "small"},
		{Label: "Large", Value: "lg"},
		{Label: "xl", Value: "xl"},
	}, sel.Options)
}

func TestParseNodeRepeater(t *testing.T) {
	s, issues := parseYAML(t, `
items:
  type: repeater
  minItems: 1
  fields:
    title:
      type: text
    title:
      type: text
    image:
      type: media
`)
	require.Len(t, issues, 1)
	assert.Equal(t, "items.title", issues[0].Path)

	field, _ := s.Get("items")
	rep := field.(*RepeaterField)
	assert.Equal(t, 1, rep.MinItems)
	assert.Equal(t, []string{"title", "image"}, rep.Fields.Keys())
}

func TestParseMapSortsKeys(t *testing.T) {
	s, issues := ParseMap(map[string]interface{}{
		"b": map[string]interface{}{"type": "text"},
		"a": map[string]interface{}{"type": "slider", "min": int64(0), "max": int64(100)},
		"c": map[string]interface{}{
			"type":   "repeater",
			"fields": map[string]interface{}{"x": map[string]interface{}{"type": "toggle"}},
		},
		"d": "text",
	})
	require.Len(t, issues, 1)
	assert.Equal(t, "d", issues[0].Path)
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())

	c, _ := s.Get("c")
	assert.Equal(t, []string{"x"}, c.(*RepeaterField).Fields.Keys())
}

func TestValidate(t *testing.T) {
	minV, maxV := 10.0, 1.0

	tests := []struct {
		name    string
		schema  Schema
		message string
	}{
		{
			name:    "select without options",
			schema:  Schema{{Key: "size", Field: &SelectField{}}},
			message: "select field requires at least one option",
		},
		{
			name:    "multiselect without options",
			schema:  Schema{{Key: "tags", Field: &MultiSelectField{}}},
			message: "multiselect field requires at least one option",
		},
		{
			name:    "repeater without fields",
			schema:  Schema{{Key: "items", Field: &RepeaterField{}}},
			message: "repeater field requires a nested fields schema",
		},
		{
			name:    "slider min not below max",
			schema:  Schema{{Key: "opacity", Field: &SliderField{Min: 5, Max: 5}}},
			message: "must be less than max",
		},
		{
			name:    "number min above max",
			schema:  Schema{{Key: "count", Field: &NumberField{Min: &minV, Max: &maxV}}},
			message: "greater than max",
		},
		{
			name: "duplicate keys",
			schema: Schema{
				{Key: "a", Field: &TextField{}},
				{Key: "a", Field: &TextField{}},
			},
			message: "duplicate field key",
		},
		{
			name: "select default not an option",
			schema: Schema{{Key: "size", Field: &SelectField{
				Common:  Common{Default: "huge"},
				Options: []Option{{Label: "S", Value: "s"}},
			}}},
			message: "is not one of the options",
		},
		{
			name: "nested repeater violation",
			schema: Schema{{Key: "items", Field: &RepeaterField{
				Fields: Schema{{Key: "kind", Field: &SelectField{}}},
			}}},
			message: "items.kind: select field requires at least one option",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := Validate(tt.schema)
			require.NotEmpty(t, issues)

			var all []string
			for _, issue := range issues {
				all = append(all, issue.String())
			}
			assert.Contains(t, strings.Join(all, "\n"), tt.message)
		})
	}
}

func TestValidateAcceptsValidSchema(t *testing.T) {
	s := Schema{
		{Key: "heading", Field: &TextField{Common: Common{Required: true}}},
		{Key: "size", Field: &SelectField{Options: []Option{{Label: "S", Value: "s"}}}},
		{Key: "opacity", Field: &SliderField{Min: 0, Max: 1, Step: 0.1}},
		{Key: "items", Field: &RepeaterField{Fields: Schema{{Key: "title", Field: &TextField{}}}}},
	}
	assert.Empty(t, Validate(s))
}

func TestDefaultContent(t *testing.T) {
	minV := 3.0
	s := Schema{
		{Key: "heading", Field: &TextField{Common: Common{Default: "Hello"}}},
		{Key: "body", Field: &TextareaField{}},
		{Key: "count", Field: &NumberField{Min: &minV}},
		{Key: "visible", Field: &ToggleField{}},
		{Key: "size", Field: &SelectField{Common: Common{Required: true}, Options: []Option{{Label: "M", Value: "m"}}}},
		{Key: "tags", Field: &MultiSelectField{Options: []Option{{Label: "A", Value: "a"}}}},
		{Key: "opacity", Field: &SliderField{Min: 0.5, Max: 1}},
		{Key: "cta", Field: &LinkField{}},
		{Key: "items", Field: &RepeaterField{MinItems: 2, Fields: Schema{{Key: "title", Field: &TextField{}}}}},
	}

	content := DefaultContent(s)

	assert.Equal(t, "Hello", content["heading"])
	assert.Equal(t, "", content["body"])
	assert.Equal(t, 3.0, content["count"])
	assert.Equal(t, false, content["visible"])
	assert.Equal(t, "m", content["size"])
	assert.Equal(t, []interface{}{}, content["tags"])
	assert.Equal(t, 0.5, content["opacity"])
	assert.Equal(t, map[string]interface{}{"href": "", "label": ""}, content["cta"])

	items, ok := content["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestGenerateTypeScript(t *testing.T) {
	s := Schema{
		{Key: "heading", Field: &TextField{Common: Common{Label: "Heading", Required: true}}},
		{Key: "size", Field: &SelectField{Options: []Option{{Label: "S", Value: "s"}, {Label: "L", Value: "l"}}}},
		{Key: "visible", Field: &ToggleField{}},
		{Key: "data-id", Field: &NumberField{}},
		{Key: "items", Field: &RepeaterField{Fields: Schema{{Key: "title", Field: &TextField{Common: Common{Required: true}}}}}},
	}

	out := GenerateTypeScript(InterfaceName("pricing-table"), s)

	assert.Contains(t, out, "DO NOT EDIT")
	assert.Contains(t, out, "export interface PricingTableProps {")
	assert.Contains(t, out, "/** Heading */")
	assert.Contains(t, out, "  heading: string;")
	assert.Contains(t, out, `  size?: "s" | "l";`)
	assert.Contains(t, out, "  visible?: boolean;")
	assert.Contains(t, out, `  "data-id"?: number;`)
	assert.Contains(t, out, "  items?: Array<{\n    title: string;\n  }>;")
}

func TestInterfaceName(t *testing.T) {
	assert.Equal(t, "HeroProps", InterfaceName("hero"))
	assert.Equal(t, "PricingTableProps", InterfaceName("pricing-table"))
	assert.Equal(t, "Resource404PageProps", InterfaceName("404-page"))
}

func TestValidatePreviewState(t *testing.T) {
	maxV := 10.0
	s := Schema{
		{Key: "heading", Field: &TextField{}},
		{Key: "count", Field: &NumberField{Max: &maxV}},
		{Key: "size", Field: &SelectField{Options: []Option{{Label: "S", Value: "s"}}}},
		{Key: "items", Field: &RepeaterField{Fields: Schema{{Key: "visible", Field: &ToggleField{}}}}},
	}

	valid := map[string]interface{}{
		"heading": "Hi",
		"count":   3,
		"size":    "s",
		"items":   []interface{}{map[string]interface{}{"visible": true}},
		"legacy":  "kept",
	}
	assert.NoError(t, ValidatePreviewState(s, valid))

	tests := []struct {
		name  string
		state map[string]interface{}
	}{
		{"wrong type", map[string]interface{}{"heading": 42}},
		{"above maximum", map[string]interface{}{"count": 11}},
		{"not an option", map[string]interface{}{"size": "xl"}},
		{"nested wrong type", map[string]interface{}{"items": []interface{}{map[string]interface{}{"visible": "yes"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePreviewState(s, tt.state)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation failed")
		})
	}
}

func TestValidateConfigDocument(t *testing.T) {
	var valid interface{}
	require.NoError(t, yaml.Unmarshal([]byte(`
displayName: Hero
category: marketing
fields:
  heading:
    type: text
    required: true
`), &valid))
	assert.NoError(t, ValidateConfigDocument(valid))

	var badField interface{}
	require.NoError(t, yaml.Unmarshal([]byte(`
fields:
  heading:
    label: Missing type
`), &badField))
	assert.Error(t, ValidateConfigDocument(badField))

	var badTop interface{}
	require.NoError(t, yaml.Unmarshal([]byte(`
displayName: [not, a, string]
`), &badTop))
	assert.Error(t, ValidateConfigDocument(badTop))
}

func TestGenerateConfigSchema(t *testing.T) {
	data, err := GenerateConfigSchema()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "blockforge resource config", doc["title"])
	assert.Contains(t, string(data), "displayName")
	assert.Contains(t, string(data), "FieldDocument")
}

func TestSchemaMarshalJSONKeepsOrder(t *testing.T) {
	s := Schema{
		{Key: "zeta", Field: &TextField{Common: Common{Required: true}}},
		{Key: "alpha", Field: &SliderField{Min: 0, Max: 5}},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	out := string(data)
	assert.Less(t, strings.Index(out, `"zeta"`), strings.Index(out, `"alpha"`))
	assert.Contains(t, out, `"zeta":{"type":"text","required":true}`)
	assert.Contains(t, out, `"max":5`)

	empty, err := json.Marshal(Schema(nil))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

func TestSchemaMarshalYAMLKeepsOrder(t *testing.T) {
	s := Schema{
		{Key: "zeta", Field: &TextField{}},
		{Key: "alpha", Field: &ToggleField{}},
	}

	data, err := yaml.Marshal(map[string]interface{}{"fields": s})
	require.NoError(t, err)

	out := string(data)
	assert.Less(t, strings.Index(out, "zeta"), strings.Index(out, "alpha"))
	assert.Contains(t, out, "type: toggle")
}

func TestSummary(t *testing.T) {
	s := Schema{
		{Key: "heading", Field: &TextField{Common: Common{Required: true}}},
		{Key: "visible", Field: &ToggleField{}},
	}
	assert.Equal(t, []string{"heading:text*", "visible:toggle"}, s.Summary())
	assert.Equal(t, []string{"heading"}, s.Required())
}
