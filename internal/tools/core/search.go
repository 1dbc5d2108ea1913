package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"codeforge/internal/tools"
)

const maxGrepMatches = 200

var skipDirs = map[string]bool{
	".git": true, ".forge": true, "node_modules": true, "vendor": true,
}

// GrepTool returns the pattern search tool. Matches are reported as
// path:line:text, capped at maxGrepMatches.
func GrepTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "grep",
		Description: "Search file contents for a regular expression",
		Category:    tools.CategorySearch,
		Sensitivity: tools.SensitivityLow,
		Schema: tools.Schema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Regular expression to search for"},
				"path":    {Type: "string", Description: "Directory to search (default: workspace root)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			pattern, _ := args["pattern"].(string)
			if pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("invalid pattern: %w", err)
			}

			root := workDir
			if p, ok := args["path"].(string); ok && p != "" {
				root = resolvePath(workDir, p)
			}

			var matches []string
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if skipDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if len(matches) >= maxGrepMatches {
					return filepath.SkipAll
				}

				data, err := os.ReadFile(path)
				if err != nil || !isText(data) {
					return nil
				}
				rel, _ := filepath.Rel(workDir, path)
				for i, line := range strings.Split(string(data), "\n") {
					if re.MatchString(line) {
						matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimSpace(line)))
						if len(matches) >= maxGrepMatches {
							break
						}
					}
				}
				return nil
			})
			if err != nil && err != filepath.SkipAll {
				return "", err
			}
			if len(matches) == 0 {
				return "no matches", nil
			}
			return strings.Join(matches, "\n"), nil
		},
	}
}

// LsTool returns the directory listing tool.
func LsTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "ls",
		Description: "List the entries of a directory",
		Category:    tools.CategorySearch,
		Sensitivity: tools.SensitivityLow,
		Schema: tools.Schema{
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "Directory to list (default: workspace root)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			root := workDir
			if p, ok := args["path"].(string); ok && p != "" {
				root = resolvePath(workDir, p)
			}

			entries, err := os.ReadDir(root)
			if err != nil {
				return "", fmt.Errorf("failed to list %s: %w", root, err)
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		},
	}
}

// isText rejects binary files by looking for NUL bytes in the prefix.
func isText(data []byte) bool {
	n := len(data)
	if n > 1024 {
		n = 1024
	}
	for _, b := range data[:n] {
		if b == 0 {
			return false
		}
	}
	return true
}
