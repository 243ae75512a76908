package watcher

import (
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"

	"github.com/conneroisu/blockforge/internal/errors"
	"github.com/conneroisu/blockforge/internal/registry"
	"github.com/conneroisu/blockforge/internal/scanner"
)

// ActionKind is what a changed path asks the coordinator to do.
type ActionKind int

const (
	// ActionIgnore drops the event.
	ActionIgnore ActionKind = iota
	// ActionGlobal rebuilds every resource.
	ActionGlobal
	// ActionConfig reloads a resource's config and manifest, then rebuilds it.
	ActionConfig
	// ActionSource rebuilds one resource.
	ActionSource
)

func (k ActionKind) String() string {
	switch k {
	case ActionIgnore:
		return "ignore"
	case ActionGlobal:
		return "global"
	case ActionConfig:
		return "config"
	case ActionSource:
		return "source"
	default:
		return "unknown"
	}
}

// Action is the classification of one path. Resource is set for config and
// source actions.
type Action struct {
	Kind     ActionKind
	Resource registry.Key
	// Root is the watched root the path belongs to.
	Root string
}

// Classifier maps changed paths to actions using the registry's resource
// roots and the shared styles root.
type Classifier struct {
	registry   *registry.Registry
	stylesRoot string
	exclude    *patternmatcher.PatternMatcher
}

// NewClassifier creates a classifier. excludePatterns use .dockerignore
// syntax and are matched relative to the resource or styles root.
func NewClassifier(reg *registry.Registry, stylesRoot string, excludePatterns []string) (*Classifier, error) {
	c := &Classifier{registry: reg}
	if stylesRoot != "" {
		abs, err := filepath.Abs(stylesRoot)
		if err != nil {
			return nil, errors.WrapConfig(err, errors.CodeInvalidConfig, "invalid styles root")
		}
		c.stylesRoot = abs
	}
	if len(excludePatterns) > 0 {
		pm, err := patternmatcher.New(excludePatterns)
		if err != nil {
			return nil, errors.WrapConfig(err, errors.CodeInvalidConfig, "invalid exclude pattern")
		}
		c.exclude = pm
	}
	return c, nil
}

// Classify decides what a change to path means.
func (c *Classifier) Classify(path string) Action {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Action{Kind: ActionIgnore}
	}
	base := filepath.Base(abs)

	if isBlockforgeOutput(base) || isWriterTemp(base) || isEditorTemp(base) {
		return Action{Kind: ActionIgnore}
	}

	if c.stylesRoot != "" {
		if rel, ok := within(c.stylesRoot, abs); ok {
			if c.excluded(rel) {
				return Action{Kind: ActionIgnore}
			}
			return Action{Kind: ActionGlobal, Root: c.stylesRoot}
		}
	}

	res, ok := c.registry.Lookup(abs)
	if !ok {
		return Action{Kind: ActionIgnore}
	}
	rel, _ := within(res.RootPath, abs)
	if c.excluded(rel) {
		return Action{Kind: ActionIgnore}
	}

	action := Action{Kind: ActionSource, Resource: res.Key(), Root: filepath.Dir(res.RootPath)}
	if filepath.Dir(abs) == res.RootPath && scanner.IsConfigFile(base) {
		action.Kind = ActionConfig
	}
	return action
}

func (c *Classifier) excluded(rel string) bool {
	if c.exclude == nil || rel == "." {
		return false
	}
	matched, _ := c.exclude.MatchesOrParentMatches(rel)
	return matched
}

// within returns path relative to root when path is inside root.
func within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// isBlockforgeOutput matches files blockforge itself writes into resource
// roots.
func isBlockforgeOutput(base string) bool {
	return base == registry.PreviewStateFile || strings.HasSuffix(base, ".generated.d.ts")
}

// isWriterTemp matches the ".<name>-<random>" files used to replace
// blockforge outputs atomically.
func isWriterTemp(base string) bool {
	if !strings.HasPrefix(base, ".") {
		return false
	}
	i := strings.LastIndex(base, "-")
	if i <= 1 {
		return false
	}
	return isBlockforgeOutput(base[1:i])
}

// isEditorTemp matches swap and backup files editors write next to sources.
func isEditorTemp(base string) bool {
	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasPrefix(base, ".#")
}
