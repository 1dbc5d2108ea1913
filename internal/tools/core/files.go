package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codeforge/internal/tools"
)

// resolvePath anchors relative paths at the workspace root.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// ReadFileTool returns the file read tool.
func ReadFileTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Category:    tools.CategoryFile,
		Sensitivity: tools.SensitivityLow,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "File path, absolute or workspace-relative"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			data, err := os.ReadFile(resolvePath(workDir, path))
			if err != nil {
				return "", fmt.Errorf("failed to read %s: %w", path, err)
			}
			return truncateOutput(string(data)), nil
		},
	}
}

// WriteFileTool returns the file create/overwrite tool. Parent
// directories are created as needed.
func WriteFileTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "write_file",
		Description: "Create or overwrite a file with the given content",
		Category:    tools.CategoryFile,
		Sensitivity: tools.SensitivityHigh,
		Schema: tools.Schema{
			Required: []string{"path", "content"},
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "File path, absolute or workspace-relative"},
				"content": {Type: "string", Description: "Full file content"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			full := resolvePath(workDir, path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", path, err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

// EditTool returns the string-replace edit tool. The old string must
// occur exactly once so the edit is unambiguous.
func EditTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "edit",
		Description: "Replace a unique string in a file with a new string",
		Category:    tools.CategoryFile,
		Sensitivity: tools.SensitivityMedium,
		Schema: tools.Schema{
			Required: []string{"path", "old_string", "new_string"},
			Properties: map[string]tools.Property{
				"path":       {Type: "string", Description: "File path, absolute or workspace-relative"},
				"old_string": {Type: "string", Description: "Exact text to replace; must occur exactly once"},
				"new_string": {Type: "string", Description: "Replacement text"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			oldStr, _ := args["old_string"].(string)
			newStr, _ := args["new_string"].(string)
			if path == "" || oldStr == "" {
				return "", fmt.Errorf("path and old_string are required")
			}

			full := resolvePath(workDir, path)
			data, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("failed to read %s: %w", path, err)
			}
			content := string(data)

			switch n := strings.Count(content, oldStr); {
			case n == 0:
				return "", fmt.Errorf("old_string not found in %s", path)
			case n > 1:
				return "", fmt.Errorf("old_string occurs %d times in %s; provide more context", n, path)
			}

			updated := strings.Replace(content, oldStr, newStr, 1)
			if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", path, err)
			}
			return fmt.Sprintf("edited %s", path), nil
		},
	}
}
