package core

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"codeforge/internal/tools"
)

// allowedGitSubcommands bounds what the git tool will run. Anything
// else goes through bash and its higher sensitivity.
var allowedGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true,
	"add": true, "commit": true, "checkout": true, "stash": true, "blame": true,
}

// GitTool returns the git subcommand tool.
func GitTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "git",
		Description: "Run a git subcommand in the workspace",
		Category:    tools.CategoryGit,
		Sensitivity: tools.SensitivityMedium,
		Schema: tools.Schema{
			Required: []string{"subcommand"},
			Properties: map[string]tools.Property{
				"subcommand": {Type: "string", Description: "Git subcommand (status, log, diff, ...)"},
				"args": {
					Type:        "array",
					Description: "Additional arguments",
					Items:       &tools.PropertyItems{Type: "string"},
				},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			sub, _ := args["subcommand"].(string)
			if !allowedGitSubcommands[sub] {
				return "", fmt.Errorf("git subcommand not allowed: %q", sub)
			}

			cmdArgs := []string{sub}
			if extra, ok := args["args"].([]any); ok {
				for _, a := range extra {
					if s, ok := a.(string); ok {
						cmdArgs = append(cmdArgs, s)
					}
				}
			}

			cmd := exec.CommandContext(ctx, "git", cmdArgs...)
			cmd.Dir = workDir

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				msg := strings.TrimSpace(stderr.String())
				if msg == "" {
					msg = err.Error()
				}
				return "", fmt.Errorf("git %s failed: %s", sub, msg)
			}
			return truncateOutput(stdout.String()), nil
		},
	}
}
