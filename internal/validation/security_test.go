package validation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateResourceName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "hero", false},
		{"dashed", "pricing-table", false},
		{"dotted", "hero.v2", false},
		{"empty", "", true},
		{"mixed case", "HeroBanner", false},
		{"space", "Hero Banner", true},
		{"traversal", "a..b", true},
		{"slash", "a/b", true},
		{"leading dash", "-hero", true},
		{"shell", "hero;rm", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResourceName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResourceType(t *testing.T) {
	assert.NoError(t, ValidateResourceType("block"))
	assert.NoError(t, ValidateResourceType("template"))
	assert.Error(t, ValidateResourceType("blocks"))
	assert.Error(t, ValidateResourceType(""))
}

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		workspace string
		wantErr   bool
	}{
		{"public", "public", "", false},
		{"workspace with id", "workspace", "ws_1", false},
		{"workspace without id", "workspace", "", true},
		{"workspace blank id", "workspace", "   ", true},
		{"empty target", "", "", true},
		{"unknown target", "private", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTarget(tt.target, tt.workspace)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{"valid argument", "--minify", false},
		{"valid relative path", "./styles", false},
		{"stdin marker", "-", false},
		{"command injection semicolon", "build; rm -rf /", true},
		{"command injection pipe", "x | cat /etc/passwd", true},
		{"command injection backtick", "x`whoami`", true},
		{"path traversal", "../../../etc/passwd", true},
		{"absolute path not allowed", "/home/user/file", true},
		{"allowed system binary path", "/usr/bin/tailwindcss", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowed := map[string]bool{"tailwindcss": true, "postcss": true}

	assert.NoError(t, ValidateCommand("tailwindcss", allowed))
	assert.Error(t, ValidateCommand("", allowed))
	assert.Error(t, ValidateCommand("rm", allowed))
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("blocks/hero/src/index.tsx"))
	assert.Error(t, ValidatePath(""))
	assert.Error(t, ValidatePath("../secret"))
	assert.Error(t, ValidatePath("/etc/passwd"))
	assert.Error(t, ValidatePath("blocks/$(id)"))
}

func TestValidateWithinRoot(t *testing.T) {
	root := t.TempDir()

	assert.NoError(t, ValidateWithinRoot(root, filepath.Join(root, "hero", "preview.json")))
	assert.NoError(t, ValidateWithinRoot(root, root))
	assert.Error(t, ValidateWithinRoot(root, filepath.Join(root, "..", "other")))
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"localhost:7777", "http://127.0.0.1:7777"}

	assert.NoError(t, ValidateOrigin("http://localhost:7777", allowed))
	assert.NoError(t, ValidateOrigin("http://127.0.0.1:7777", allowed))
	assert.Error(t, ValidateOrigin("", allowed))
	assert.Error(t, ValidateOrigin("file://localhost:7777", allowed))
	assert.Error(t, ValidateOrigin("http://evil.example", allowed))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("http://localhost:7777"))
	assert.NoError(t, ValidateURL("https://catalog.example.com/graphql"))
	assert.Error(t, ValidateURL("javascript:alert(1)"))
	assert.Error(t, ValidateURL("http://localhost:7777; rm -rf /"))
	assert.Error(t, ValidateURL("http://"))
}
