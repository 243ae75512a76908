// Package schema models the declarative field schema that every block and
// template carries in its config file.
//
// A Schema is an ordered list of entries. Each entry's Field is one of a
// closed set of kind-specific structs; consumers dispatch with an exhaustive
// type switch rather than probing properties. The package parses schemas from
// YAML nodes (order preserving) and from plain maps, validates them, derives
// default preview content, generates TypeScript declarations and compiles a
// JSON Schema used to validate preview state.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the declared type of a field.
type Kind string

const (
	KindText        Kind = "text"
	KindTextarea    Kind = "textarea"
	KindRichText    Kind = "richtext"
	KindNumber      Kind = "number"
	KindDate        Kind = "date"
	KindMedia       Kind = "media"
	KindLink        Kind = "link"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multiselect"
	KindToggle      Kind = "toggle"
	KindColor       Kind = "color"
	KindSlider      Kind = "slider"
	KindRepeater    Kind = "repeater"
)

// Kinds lists every supported kind in declaration order.
var Kinds = []Kind{
	KindText, KindTextarea, KindRichText, KindNumber, KindDate, KindMedia, KindLink,
	KindSelect, KindMultiSelect, KindToggle, KindColor, KindSlider, KindRepeater,
}

// kindAliases accepts the spellings produced by the visual editor and older configs.
var kindAliases = map[string]Kind{
	"string":     KindText,
	"singleline": KindText,
	"multiline":  KindTextarea,
	"rich-text":  KindRichText,
	"html":       KindRichText,
	"integer":    KindNumber,
	"image":      KindMedia,
	"url":        KindLink,
	"enum":       KindSelect,
	"multi":      KindMultiSelect,
	"boolean":    KindToggle,
	"bool":       KindToggle,
	"range":      KindSlider,
	"list":       KindRepeater,
	"array":      KindRepeater,
}

// ParseKind resolves a declared type name, case-insensitively, to a Kind.
func ParseKind(name string) (Kind, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, k := range Kinds {
		if string(k) == lower {
			return k, true
		}
	}
	if k, ok := kindAliases[lower]; ok {
		return k, true
	}
	return "", false
}

// Common holds the attributes shared by every field kind.
type Common struct {
	Label       string      `yaml:"label,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Required    bool        `yaml:"required,omitempty"`
	Default     interface{} `yaml:"default,omitempty"`
}

// Field is implemented only by the kind structs in this package.
type Field interface {
	Kind() Kind
	Base() *Common
	isField()
}

// Option is one choice of a select or multi-select field.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

type TextField struct {
	Common      `yaml:",inline"`
	Placeholder string `yaml:"placeholder,omitempty"`
	MaxLength   int    `yaml:"maxLength,omitempty"`
}

type TextareaField struct {
	Common      `yaml:",inline"`
	Placeholder string `yaml:"placeholder,omitempty"`
	Rows        int    `yaml:"rows,omitempty"`
}

type RichTextField struct {
	Common `yaml:",inline"`
}

type NumberField struct {
	Common `yaml:",inline"`
	Min    *float64 `yaml:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty"`
	Step   float64  `yaml:"step,omitempty"`
}

type DateField struct {
	Common `yaml:",inline"`
}

type MediaField struct {
	Common `yaml:",inline"`
	Accept []string `yaml:"accept,omitempty"`
}

type LinkField struct {
	Common `yaml:",inline"`
}

type SelectField struct {
	Common  `yaml:",inline"`
	Options []Option `yaml:"options"`
}

type MultiSelectField struct {
	Common   `yaml:",inline"`
	Options  []Option `yaml:"options"`
	MaxItems int      `yaml:"maxItems,omitempty"`
}

type ToggleField struct {
	Common `yaml:",inline"`
}

type ColorField struct {
	Common `yaml:",inline"`
}

type SliderField struct {
	Common `yaml:",inline"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Step   float64 `yaml:"step,omitempty"`
}

// RepeaterField is a list of items, each shaped by the nested Fields schema.
type RepeaterField struct {
	Common   `yaml:",inline"`
	Fields   Schema `yaml:"-"`
	MinItems int    `yaml:"minItems,omitempty"`
	MaxItems int    `yaml:"maxItems,omitempty"`
}

func (*TextField) Kind() Kind        { return KindText }
func (*TextareaField) Kind() Kind    { return KindTextarea }
func (*RichTextField) Kind() Kind    { return KindRichText }
func (*NumberField) Kind() Kind      { return KindNumber }
func (*DateField) Kind() Kind        { return KindDate }
func (*MediaField) Kind() Kind       { return KindMedia }
func (*LinkField) Kind() Kind        { return KindLink }
func (*SelectField) Kind() Kind      { return KindSelect }
func (*MultiSelectField) Kind() Kind { return KindMultiSelect }
func (*ToggleField) Kind() Kind      { return KindToggle }
func (*ColorField) Kind() Kind       { return KindColor }
func (*SliderField) Kind() Kind      { return KindSlider }
func (*RepeaterField) Kind() Kind    { return KindRepeater }

func (f *TextField) Base() *Common        { return &f.Common }
func (f *TextareaField) Base() *Common    { return &f.Common }
func (f *RichTextField) Base() *Common    { return &f.Common }
func (f *NumberField) Base() *Common      { return &f.Common }
func (f *DateField) Base() *Common        { return &f.Common }
func (f *MediaField) Base() *Common       { return &f.Common }
func (f *LinkField) Base() *Common        { return &f.Common }
func (f *SelectField) Base() *Common      { return &f.Common }
func (f *MultiSelectField) Base() *Common { return &f.Common }
func (f *ToggleField) Base() *Common      { return &f.Common }
func (f *ColorField) Base() *Common       { return &f.Common }
func (f *SliderField) Base() *Common      { return &f.Common }
func (f *RepeaterField) Base() *Common    { return &f.Common }

func (*TextField) isField()        {}
func (*TextareaField) isField()    {}
func (*RichTextField) isField()    {}
func (*NumberField) isField()      {}
func (*DateField) isField()        {}
func (*MediaField) isField()       {}
func (*LinkField) isField()        {}
func (*SelectField) isField()      {}
func (*MultiSelectField) isField() {}
func (*ToggleField) isField()      {}
func (*ColorField) isField()       {}
func (*SliderField) isField()      {}
func (*RepeaterField) isField()    {}

// newField allocates the zero struct for a kind.
func newField(kind Kind) (Field, error) {
	switch kind {
	case KindText:
		return &TextField{}, nil
	case KindTextarea:
		return &TextareaField{}, nil
	case KindRichText:
		return &RichTextField{}, nil
	case KindNumber:
		return &NumberField{}, nil
	case KindDate:
		return &DateField{}, nil
	case KindMedia:
		return &MediaField{}, nil
	case KindLink:
		return &LinkField{}, nil
	case KindSelect:
		return &SelectField{}, nil
	case KindMultiSelect:
		return &MultiSelectField{}, nil
	case KindToggle:
		return &ToggleField{}, nil
	case KindColor:
		return &ColorField{}, nil
	case KindSlider:
		return &SliderField{}, nil
	case KindRepeater:
		return &RepeaterField{}, nil
	default:
		return nil, fmt.Errorf("unknown field kind %q", kind)
	}
}

// Entry is one keyed field of a schema.
type Entry struct {
	Key   string
	Field Field
}

// Schema is an ordered mapping of field key to field definition.
type Schema []Entry

// Get returns the field stored under key.
func (s Schema) Get(key string) (Field, bool) {
	for _, e := range s {
		if e.Key == key {
			return e.Field, true
		}
	}
	return nil, false
}

// Keys returns the field keys in declaration order.
func (s Schema) Keys() []string {
	keys := make([]string, len(s))
	for i, e := range s {
		keys[i] = e.Key
	}
	return keys
}

// Required returns the keys of required fields in declaration order.
func (s Schema) Required() []string {
	var keys []string
	for _, e := range s {
		if e.Field.Base().Required {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Summary describes the schema as "key:kind" pairs, used by listings.
func (s Schema) Summary() []string {
	out := make([]string, len(s))
	for i, e := range s {
		item := e.Key + ":" + string(e.Field.Kind())
		if e.Field.Base().Required {
			item += "*"
		}
		out[i] = item
	}
	return out
}

func optionValues(options []Option) []string {
	values := make([]string, len(options))
	for i, o := range options {
		values[i] = o.Value
	}
	return values
}
