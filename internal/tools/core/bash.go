package core

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"codeforge/internal/tools"
)

const maxOutputBytes = 50000

// BashTool returns the shell execution tool. Commands run in workDir
// under the caller's context deadline.
func BashTool(workDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "bash",
		Description: "Run a shell command and return its combined output",
		Category:    tools.CategoryShell,
		Sensitivity: tools.SensitivityHigh,
		Schema: tools.Schema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "The command to execute"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return "", fmt.Errorf("command is required")
			}

			var cmd *exec.Cmd
			if runtime.GOOS == "windows" {
				cmd = exec.CommandContext(ctx, "cmd", "/C", command)
			} else {
				cmd = exec.CommandContext(ctx, "sh", "-c", command)
			}
			cmd.Dir = workDir

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			err := cmd.Run()

			output := stdout.String()
			if stderr.Len() > 0 {
				if output != "" {
					output += "\n--- stderr ---\n"
				}
				output += stderr.String()
			}
			output = truncateOutput(output)

			if err != nil {
				if ctx.Err() == context.DeadlineExceeded {
					return output, fmt.Errorf("command timed out")
				}
				return output, fmt.Errorf("command failed: %w", err)
			}
			return output, nil
		},
	}
}

func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n...[truncated]"
	}
	return s
}
