package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TypesFileName is the declaration file written next to each resource. The
// watcher ignores it so regeneration never triggers a rebuild.
const TypesFileName = "types.generated.d.ts"

var identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// InterfaceName converts a resource name such as "pricing-table" into
// "PricingTableProps".
func InterfaceName(resourceName string) string {
	caser := cases.Title(language.English)
	parts := strings.FieldsFunc(resourceName, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var b strings.Builder
	for _, p := range parts {
		b.WriteString(caser.String(p))
	}
	name := b.String()
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "Resource" + name
	}
	return name + "Props"
}

// GenerateTypeScript renders the schema as an exported TypeScript interface.
func GenerateTypeScript(interfaceName string, s Schema) string {
	var b strings.Builder
	b.WriteString("// Code generated by blockforge. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "export interface %s ", interfaceName)
	writeObject(&b, s, 0)
	b.WriteString("\n")
	return b.String()
}

func writeObject(b *strings.Builder, s Schema, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString("{\n")
	for _, e := range s {
		base := e.Field.Base()
		if base.Label != "" || base.Description != "" {
			doc := base.Label
			if base.Description != "" {
				if doc != "" {
					doc += ": "
				}
				doc += base.Description
			}
			fmt.Fprintf(b, "%s  /** %s */\n", indent, strings.ReplaceAll(doc, "*/", "* /"))
		}

		optional := "?"
		if base.Required {
			optional = ""
		}
		fmt.Fprintf(b, "%s  %s%s: ", indent, propertyName(e.Key), optional)
		writeType(b, e.Field, depth+1)
		b.WriteString(";\n")
	}
	b.WriteString(indent + "}")
}

func writeType(b *strings.Builder, field Field, depth int) {
	switch f := field.(type) {
	case *TextField, *TextareaField, *RichTextField, *DateField, *MediaField, *ColorField:
		b.WriteString("string")
	case *NumberField, *SliderField:
		b.WriteString("number")
	case *ToggleField:
		b.WriteString("boolean")
	case *LinkField:
		b.WriteString("{ href: string; label?: string }")
	case *SelectField:
		b.WriteString(literalUnion(f.Options))
	case *MultiSelectField:
		b.WriteString("Array<" + literalUnion(f.Options) + ">")
	case *RepeaterField:
		b.WriteString("Array<")
		writeObject(b, f.Fields, depth)
		b.WriteString(">")
	default:
		b.WriteString("unknown")
	}
}

func literalUnion(options []Option) string {
	if len(options) == 0 {
		return "string"
	}
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = strconv.Quote(o.Value)
	}
	return strings.Join(parts, " | ")
}

func propertyName(key string) string {
	if identPattern.MatchString(key) {
		return key
	}
	return strconv.Quote(key)
}
