package scanner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/schema"
	"github.com/conneroisu/blockforge/internal/validation"
)

// ConfigFiles lists the accepted resource config file names in lookup order.
var ConfigFiles = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

// ManifestFile is the package manifest read for name and version.
const ManifestFile = "package.json"

// Config is the parsed content of a resource config file.
type Config struct {
	File        string
	DisplayName string
	Description string
	Category    string
	Entry       string
	Tags        []string
	Schema      schema.Schema
}

// FindConfig returns the path of the first config file present in dir.
func FindConfig(dir string) (string, bool) {
	for _, name := range ConfigFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// IsConfigFile reports whether name is a resource config or manifest file name.
func IsConfigFile(name string) bool {
	if name == ManifestFile {
		return true
	}
	for _, c := range ConfigFiles {
		if name == c {
			return true
		}
	}
	return false
}

// LoadConfig reads and validates the config file of the resource in dir.
// Structural problems are returned as an error; schema rule violations are
// returned as issues alongside the parsed config.
func LoadConfig(dir string) (*Config, []schema.Issue, error) {
	path, ok := FindConfig(dir)
	if !ok {
		return nil, nil, errors.NewScanWarning(dir, "no config file found (expected one of "+strings.Join(ConfigFiles, ", ")+")", nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.NewScanWarning(dir, "failed to read config file", err).WithLocation(path, 0, 0)
	}

	var (
		doc    map[string]interface{}
		fields func() (schema.Schema, []schema.Issue)
	)

	if filepath.Ext(path) == ".toml" {
		doc, fields, err = decodeTOML(data)
	} else {
		doc, fields, err = decodeYAML(data)
	}
	if err != nil {
		return nil, nil, errors.NewScanWarning(dir, "failed to parse config file", err).WithLocation(path, 0, 0)
	}

	if err := schema.ValidateConfigDocument(doc); err != nil {
		return nil, nil, errors.NewScanWarning(dir, "invalid config file", err).WithLocation(path, 0, 0)
	}

	cfg := &Config{
		File:        path,
		DisplayName: stringValue(doc["displayName"]),
		Description: stringValue(doc["description"]),
		Category:    stringValue(doc["category"]),
		Entry:       stringValue(doc["entry"]),
		Tags:        stringSlice(doc["tags"]),
	}

	var issues []schema.Issue
	cfg.Schema, issues = fields()
	issues = append(issues, schema.Validate(cfg.Schema)...)

	if cfg.Entry != "" {
		if err := validation.ValidateWithinRoot(dir, filepath.Join(dir, cfg.Entry)); err != nil {
			issues = append(issues, schema.Issue{Path: "entry", Message: err.Error()})
		}
	}

	return cfg, dedupeIssues(issues), nil
}

func decodeYAML(data []byte) (map[string]interface{}, func() (schema.Schema, []schema.Issue), error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, err
	}

	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil, fmt.Errorf("config file is empty")
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("config file must contain a mapping at the top level (line %d)", node.Line)
	}

	doc, _ := decodeFirstWins(node).(map[string]interface{})

	var fieldsNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "fields" {
			fieldsNode = node.Content[i+1]
			break
		}
	}

	return doc, func() (schema.Schema, []schema.Issue) {
		return schema.ParseNode(fieldsNode)
	}, nil
}

// decodeFirstWins decodes a node like yaml.Node.Decode into interface{}, but
// keeps the first value of a duplicated mapping key instead of failing. Field
// duplicates are reported by schema.ParseNode with line numbers.
func decodeFirstWins(node *yaml.Node) interface{} {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil
		}
		return decodeFirstWins(node.Content[0])
	case yaml.AliasNode:
		return decodeFirstWins(node.Alias)
	case yaml.MappingNode:
		m := make(map[string]interface{}, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if _, exists := m[key]; exists {
				continue
			}
			m[key] = decodeFirstWins(node.Content[i+1])
		}
		return m
	case yaml.SequenceNode:
		s := make([]interface{}, 0, len(node.Content))
		for _, item := range node.Content {
			s = append(s, decodeFirstWins(item))
		}
		return s
	default:
		var v interface{}
		if err := node.Decode(&v); err != nil {
			return node.Value
		}
		return v
	}
}

func decodeTOML(data []byte) (map[string]interface{}, func() (schema.Schema, []schema.Issue), error) {
	var doc map[string]interface{}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return nil, nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	return doc, func() (schema.Schema, []schema.Issue) {
		raw, ok := doc["fields"]
		if !ok {
			return nil, nil
		}
		fields, ok := raw.(map[string]interface{})
		if !ok {
			return nil, []schema.Issue{{Path: "fields", Message: "fields must be a table"}}
		}
		return schema.ParseMap(fields)
	}, nil
}

func dedupeIssues(issues []schema.Issue) []schema.Issue {
	seen := make(map[schema.Issue]bool, len(issues))
	out := issues[:0]
	for _, issue := range issues {
		if seen[issue] {
			continue
		}
		seen[issue] = true
		out = append(out, issue)
	}
	return out
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
