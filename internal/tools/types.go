// Package tools defines the uniform tool contract and the name-keyed
// registry the executor dispatches through. A tool is a capability set,
// not a type hierarchy; categories and sensitivity are data. Arguments
// travel as a structured map validated against the tool's schema once,
// at the registry boundary.
package tools

import (
	"context"
)

// Category classifies tools for filtering and display.
type Category string

const (
	CategoryShell  Category = "shell"
	CategoryFile   Category = "file"
	CategorySearch Category = "search"
	CategoryGit    Category = "git"
	CategoryWeb    Category = "web"
	CategoryMemory Category = "memory"
)

// Sensitivity is the default risk classification of a tool. The
// approval gate maps sensitivity and approval mode to allow or prompt.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// Property describes a single parameter for the tool schema.
type Property struct {
	Type        string `json:"type"` // string | number | boolean | array
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array").
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the expected arguments of a tool.
type Schema struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc runs the tool. The context carries the per-task deadline
// and cancellation; implementations must observe it.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is one registered capability.
type Tool struct {
	// Name is the unique identifier used in plans and logs.
	Name string

	// Description is surfaced to the model for tool selection.
	Description string

	Category    Category
	Sensitivity Sensitivity

	// Schema describes the accepted arguments. Validation happens in
	// the registry before Execute is called.
	Schema Schema

	Execute ExecuteFunc
}

// Validate checks the tool definition.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// ToolResult wraps one execution with metadata.
type ToolResult struct {
	ToolName   string
	Success    bool
	Output     string
	Error      string
	DurationMs int64
}
