// Package approval implements the gate that decides whether a tool
// invocation proceeds: sensitivity classification, the per-mode prompt
// matrix and the stricter permission policy for constrained runs.
package approval

import (
	"codeforge/internal/tools"
)

// defaultSensitivity is the built-in classification per tool.
var defaultSensitivity = map[string]tools.Sensitivity{
	"bash":       tools.SensitivityHigh,
	"read_file":  tools.SensitivityLow,
	"write_file": tools.SensitivityHigh,
	"edit":       tools.SensitivityMedium,
	"grep":       tools.SensitivityLow,
	"ls":         tools.SensitivityLow,
	"web":        tools.SensitivityMedium,
	"git":        tools.SensitivityMedium,
	"memory":     tools.SensitivityLow,
}

// Classifier maps tool names to sensitivity, applying configuration
// overrides on top of the defaults.
type Classifier struct {
	overrides map[string]tools.Sensitivity
	registry  *tools.Registry
}

// NewClassifier builds a classifier with the given overrides
// (tool name -> "low"|"medium"|"high"; unknown values are ignored).
func NewClassifier(registry *tools.Registry, overrides map[string]string) *Classifier {
	c := &Classifier{
		overrides: make(map[string]tools.Sensitivity),
		registry:  registry,
	}
	for name, level := range overrides {
		switch s := tools.Sensitivity(level); s {
		case tools.SensitivityLow, tools.SensitivityMedium, tools.SensitivityHigh:
			c.overrides[name] = s
		}
	}
	return c
}

// Classify returns the sensitivity of a tool invocation. Overrides win
// over defaults; tools absent from both fall back to their registered
// sensitivity, and finally to high so unknown capabilities are never
// silently allowed.
func (c *Classifier) Classify(toolName string) tools.Sensitivity {
	if s, ok := c.overrides[toolName]; ok {
		return s
	}
	if s, ok := defaultSensitivity[toolName]; ok {
		return s
	}
	if c.registry != nil {
		if t := c.registry.Get(toolName); t != nil && t.Sensitivity != "" {
			return t.Sensitivity
		}
	}
	return tools.SensitivityHigh
}
