package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/evahq/eva/plugin/ai/agent"
)

// FileTool reads, writes, and lists files inside a sandbox directory.
// Paths are interpreted relative to the sandbox root and may never
// escape it.
type FileTool struct {
	root string
}

// NewFileTool creates a file tool sandboxed at root.
func NewFileTool(root string) *FileTool {
	return &FileTool{root: filepath.Clean(root)}
}

func (t *FileTool) Name() string { return "file" }

func (t *FileTool) Description() string {
	return "Read, write, or list files in the user's workspace. Paths are relative to the workspace root."
}

func (t *FileTool) Parameters() agent.ParameterSchema {
	return agent.ParameterSchema{
		Properties: map[string]agent.Property{
			"action":  {Type: "string", Enum: []string{"read", "write", "list"}},
			"path":    {Type: "string", Description: "Relative path inside the workspace."},
			"content": {Type: "string", Description: "Content to write; null for read and list."},
		},
		Required: []string{"action", "path", "content"},
	}
}

func (t *FileTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	action, _ := args["action"].(string)
	relPath, _ := args["path"].(string)

	path, err := t.resolve(relPath)
	if err != nil {
		return nil, err
	}

	switch action {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read file")
		}
		return map[string]any{"path": relPath, "content": string(data)}, nil

	case "write":
		content, _ := args["content"].(string)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create directory")
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, errors.Wrap(err, "failed to write file")
		}
		return map[string]any{"path": relPath, "bytes_written": len(content)}, nil

	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list directory")
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return map[string]any{"path": relPath, "entries": names}, nil

	default:
		return nil, errors.Errorf("unknown action: %s", action)
	}
}

// resolve maps a relative path into the sandbox and rejects any path
// that would land outside it.
func (t *FileTool) resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", errors.New("absolute paths are not allowed")
	}
	full := filepath.Clean(filepath.Join(t.root, relPath))
	if full != t.root && !strings.HasPrefix(full, t.root+string(filepath.Separator)) {
		return "", errors.New("path escapes the workspace")
	}
	return full, nil
}
