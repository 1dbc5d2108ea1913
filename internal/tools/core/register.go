package core

import (
	"codeforge/internal/store"
	"codeforge/internal/tools"
)

// RegisterAll adds the built-in tool set to the registry.
func RegisterAll(reg *tools.Registry, workDir string, st *store.LocalStore, projectID string) error {
	for _, t := range []*tools.Tool{
		BashTool(workDir),
		ReadFileTool(workDir),
		WriteFileTool(workDir),
		EditTool(workDir),
		GrepTool(workDir),
		LsTool(workDir),
		GitTool(workDir),
		MemoryTool(st, projectID),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
