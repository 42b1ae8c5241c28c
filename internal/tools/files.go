package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haloweave/cortana/internal/agent"
)

const readFileDoc = `Reads a text file from the agent workspace.

Args:
    path: File path, relative to the workspace.
`

const writeFileDoc = `Writes content to a file in the agent workspace, creating parent directories as needed.

Args:
    path: File path, relative to the workspace.
    content: The full content to write.
`

const editFileDoc = `Replaces text in a file. The old text must appear exactly once.

Args:
    path: File path, relative to the workspace.
    old_text: The exact text to replace.
    new_text: The replacement text.
`

const maxReadBytes = 256 * 1024

func fileDefinitions(workspace string, restrict bool) []*agent.Definition {
	return []*agent.Definition{
		agent.NewDefinition("read_file", readFileDoc).
			Param("path", agent.String).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				path, err := resolvePath(workspace, args.String("path"), restrict)
				if err != nil {
					return "", err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return "", fmt.Errorf("read %s: %w", args.String("path"), err)
				}
				if len(data) > maxReadBytes {
					return string(data[:maxReadBytes]) + "\n\n[File truncated...]", nil
				}
				return string(data), nil
			}),

		agent.NewDefinition("write_file", writeFileDoc).
			Param("path", agent.String).
			Param("content", agent.String).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				path, err := resolvePath(workspace, args.String("path"), restrict)
				if err != nil {
					return "", err
				}
				content := args.String("content")
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return "", fmt.Errorf("create parent dir: %w", err)
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return "", fmt.Errorf("write %s: %w", args.String("path"), err)
				}
				return fmt.Sprintf("Wrote %d bytes to %s", len(content), args.String("path")), nil
			}),

		agent.NewDefinition("edit_file", editFileDoc).
			Param("path", agent.String).
			Param("old_text", agent.String).
			Param("new_text", agent.String).
			Handle(func(ctx context.Context, rc *agent.RunContext, args agent.Args) (string, error) {
				path, err := resolvePath(workspace, args.String("path"), restrict)
				if err != nil {
					return "", err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return "", fmt.Errorf("read %s: %w", args.String("path"), err)
				}
				oldText := args.String("old_text")
				switch n := strings.Count(string(data), oldText); {
				case oldText == "":
					return "", fmt.Errorf("old_text must not be empty")
				case n == 0:
					return "", fmt.Errorf("old_text not found in %s", args.String("path"))
				case n > 1:
					return "", fmt.Errorf("old_text appears %d times in %s; provide more surrounding context", n, args.String("path"))
				}
				updated := strings.Replace(string(data), oldText, args.String("new_text"), 1)
				if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
					return "", fmt.Errorf("write %s: %w", args.String("path"), err)
				}
				return fmt.Sprintf("Edited %s", args.String("path")), nil
			}),
	}
}

// resolvePath turns a tool-supplied path into an absolute one, confining
// it to the workspace when restriction is on.
func resolvePath(workspace, path string, restrict bool) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	if restrict {
		wsAbs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		if abs != wsAbs && !strings.HasPrefix(abs, wsAbs+string(filepath.Separator)) {
			return "", fmt.Errorf("path %q is outside the workspace", path)
		}
	}
	return abs, nil
}
