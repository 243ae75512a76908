// Package validation provides input validation for resource identifiers,
// publish targets, filesystem paths and external commands. Everything that
// arrives over HTTP or from project configuration passes through here before
// it reaches the registry, the compiler or the publish tracker.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Resource types understood by the registry.
const (
	ResourceTypeBlock    = "block"
	ResourceTypeTemplate = "template"
)

// Publish targets understood by the tracker.
const (
	TargetWorkspace = "workspace"
	TargetPublic    = "public"
)

var resourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateResourceType checks that t names a known resource type.
func ValidateResourceType(t string) error {
	switch t {
	case ResourceTypeBlock, ResourceTypeTemplate:
		return nil
	default:
		return fmt.Errorf("unknown resource type '%s': expected block or template", t)
	}
}

// ValidateResourceName checks a resource name as derived from its directory.
func ValidateResourceName(name string) error {
	if name == "" {
		return fmt.Errorf("resource name cannot be empty")
	}

	if len(name) > 214 {
		return fmt.Errorf("resource name too long: %d characters", len(name))
	}

	if !resourceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid resource name '%s': use letters, digits, '.', '_' or '-'", name)
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("resource name contains path traversal: %s", name)
	}

	return nil
}

// ValidateTarget checks a publish target and its workspace requirement.
func ValidateTarget(target, workspaceID string) error {
	switch target {
	case TargetWorkspace:
		if strings.TrimSpace(workspaceID) == "" {
			return fmt.Errorf("target 'workspace' requires a workspace id")
		}
		return nil
	case TargetPublic:
		return nil
	case "":
		return fmt.Errorf("target cannot be empty")
	default:
		return fmt.Errorf("unknown target '%s': expected workspace or public", target)
	}
}

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	dangerous := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\\", "\"", "'"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if strings.Contains(arg, "..") {
		return fmt.Errorf("contains path traversal: %s", arg)
	}

	if filepath.IsAbs(arg) && !strings.HasPrefix(arg, "/usr/bin/") && !strings.HasPrefix(arg, "/bin/") {
		return fmt.Errorf("absolute path not allowed: %s", arg)
	}

	return nil
}

// ValidateCommand validates a command name against an allowlist
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if !allowedCommands[command] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	if err := ValidateArgument(command); err != nil {
		return fmt.Errorf("invalid command '%s': %w", command, err)
	}

	return nil
}

// ValidatePath validates a file path to prevent path traversal attacks
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}

	restrictedPaths := []string{
		"/etc/",
		"/proc/",
		"/sys/",
		"/dev/",
		"/boot/",
	}

	cleanPathLower := strings.ToLower(cleanPath)
	for _, restricted := range restrictedPaths {
		if strings.HasPrefix(cleanPathLower, restricted) {
			return fmt.Errorf("access to restricted path denied: %s", path)
		}
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateWithinRoot checks that path resolves inside root.
func ValidateWithinRoot(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes %s", path, root)
	}

	return nil
}

// ValidateOrigin validates WebSocket origin for CSRF protection
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}

	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed || originURL.Host == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}
