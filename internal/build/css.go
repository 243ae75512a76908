package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/blockforge/internal/validation"
)

// CSSCompiler transforms a stylesheet. styleRoots are the project's shared
// style directories, made available to the compiler for imports.
type CSSCompiler interface {
	Transform(ctx context.Context, css []byte, styleRoots []string) ([]byte, error)
}

// allowedCSSCommands is the allowlist for external CSS toolchains.
var allowedCSSCommands = map[string]bool{
	"tailwindcss":  true,
	"postcss":      true,
	"lightningcss": true,
	"sass":         true,
	"npx":          true,
}

// ExecCSSCompiler pipes the stylesheet through an external command on stdin
// and reads the result from stdout.
type ExecCSSCompiler struct {
	command string
	args    []string
	dir     string
}

// NewExecCSSCompiler validates the command line and returns a compiler that
// runs it in dir.
func NewExecCSSCompiler(command string, args []string, dir string) (*ExecCSSCompiler, error) {
	c := &ExecCSSCompiler{command: command, args: args, dir: dir}
	if err := c.validateCommand(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	return c, nil
}

// Transform runs the command with ctx governing its lifetime.
func (c *ExecCSSCompiler) Transform(ctx context.Context, css []byte, styleRoots []string) ([]byte, error) {
	if _, err := exec.LookPath(c.command); err != nil {
		return nil, fmt.Errorf("css compiler %q not found in PATH: %w", c.command, err)
	}

	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(css)
	cmd.Env = append(os.Environ(), "BLOCKFORGE_STYLE_ROOTS="+strings.Join(styleRoots, string(os.PathListSeparator)))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", c.command, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w\nOutput: %s", c.command, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

func (c *ExecCSSCompiler) validateCommand() error {
	if err := validation.ValidateCommand(c.command, allowedCSSCommands); err != nil {
		return err
	}

	for _, arg := range c.args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	return nil
}

// DetectCSSConfig returns the first CSS compiler config file found in
// projectRoot, or "" when the project declares none.
func DetectCSSConfig(projectRoot string, candidates []string) string {
	for _, name := range candidates {
		path := filepath.Join(projectRoot, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// DefaultCSSCommand picks the toolchain implied by a detected config file.
func DefaultCSSCommand(configPath string) (string, []string) {
	base := filepath.Base(configPath)
	switch {
	case strings.HasPrefix(base, "tailwind.config."):
		return "tailwindcss", []string{"--input", "-", "--output", "-"}
	case strings.HasPrefix(base, "postcss.config."):
		return "postcss", nil
	default:
		return "", nil
	}
}
