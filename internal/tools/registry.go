package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// Registry holds the available tools. Registration happens at startup;
// after that the registry is effectively immutable and safe for
// concurrent dispatch.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Duplicate names are an error; the schema is
// compiled eagerly so a malformed definition fails at startup, not at
// first dispatch.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	compiled, err := compileSchema(tool)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.compiled[tool.Name] = compiled

	logging.ToolsDebug("registered tool %s (category=%s sensitivity=%s)",
		tool.Name, tool.Category, tool.Sensitivity)
	return nil
}

// MustRegister registers a tool and panics on error. For static
// registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not registered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute validates args against the tool's schema and runs it. A
// validation failure returns a failed result without invoking the tool
// and an error of kind ToolSchemaError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	r.mu.RLock()
	tool := r.tools[name]
	schema := r.compiled[name]
	r.mu.RUnlock()

	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	start := time.Now()
	if err := validateArgs(schema, args); err != nil {
		schemaErr := types.NewAgentError(types.KindToolSchema, "tools",
			fmt.Sprintf("schema: %v", err), nil)
		return &ToolResult{
			ToolName:   name,
			Success:    false,
			Error:      schemaErr.Message,
			DurationMs: time.Since(start).Milliseconds(),
		}, schemaErr
	}

	logging.ToolsDebug("executing %s", name)
	output, err := tool.Execute(ctx, args)
	duration := time.Since(start)
	logging.ToolsDebug("%s completed in %v (success=%v)", name, duration, err == nil)

	result := &ToolResult{
		ToolName:   name,
		Success:    err == nil,
		Output:     output,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
		if types.KindOf(err) == "" {
			err = types.NewAgentError(types.KindToolFailure, "tools", name+" failed", err)
		}
		return result, err
	}
	return result, nil
}

// compileSchema turns the tool's parameter description into a compiled
// JSON schema object.
func compileSchema(tool *Tool) (*jsonschema.Schema, error) {
	// A nil slice marshals as JSON null, which the metaschema rejects
	// for "required"; it must always be an array.
	required := tool.Schema.Required
	if required == nil {
		required = []string{}
	}
	doc := map[string]any{
		"type":     "object",
		"required": required,
	}
	props := map[string]any{}
	for name, p := range tool.Schema.Properties {
		prop := map[string]any{"type": schemaType(p.Type)}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = prop
	}
	doc["properties"] = props

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(tool.Name+".schema.json", string(raw))
}

// schemaType normalizes property types; JSON numbers decode as float64
// so "integer" is widened to "number".
func schemaType(t string) string {
	if t == "integer" {
		return "number"
	}
	if t == "" {
		return "string"
	}
	return t
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip so nested values are plain JSON types.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}
