package core

import (
	"context"
	"fmt"
	"strings"

	"codeforge/internal/store"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

// MemoryTool returns the knowledge store bridge. It reads and writes
// long-lived key/value facts for the current project.
func MemoryTool(st *store.LocalStore, projectID string) *tools.Tool {
	return &tools.Tool{
		Name:        "memory",
		Description: "Read or write long-lived project knowledge",
		Category:    tools.CategoryMemory,
		Sensitivity: tools.SensitivityLow,
		Schema: tools.Schema{
			Required: []string{"action"},
			Properties: map[string]tools.Property{
				"action":     {Type: "string", Description: "Operation to perform", Enum: []any{"get", "set", "list"}},
				"key":        {Type: "string", Description: "Knowledge key (get/set)"},
				"value":      {Type: "string", Description: "Knowledge value (set)"},
				"category":   {Type: "string", Description: "Category label (set)"},
				"importance": {Type: "number", Description: "Importance score, higher ranks first (set)"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			action, _ := args["action"].(string)
			key, _ := args["key"].(string)

			switch action {
			case "get":
				if key == "" {
					return "", fmt.Errorf("key is required for get")
				}
				entry, err := st.GetKnowledge(projectID, key)
				if err != nil {
					return "", err
				}
				if entry == nil {
					return fmt.Sprintf("no knowledge stored under %q", key), nil
				}
				return entry.Value, nil

			case "set":
				value, _ := args["value"].(string)
				if key == "" || value == "" {
					return "", fmt.Errorf("key and value are required for set")
				}
				category, _ := args["category"].(string)
				importance, _ := args["importance"].(float64)
				err := st.StoreKnowledge(&types.KnowledgeEntry{
					ProjectID:  projectID,
					Key:        key,
					Value:      value,
					Category:   category,
					Importance: importance,
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("stored %q", key), nil

			case "list":
				entries, err := st.TopKnowledge(projectID, 50)
				if err != nil {
					return "", err
				}
				if len(entries) == 0 {
					return "no knowledge stored", nil
				}
				var b strings.Builder
				for _, e := range entries {
					fmt.Fprintf(&b, "%s: %s\n", e.Key, e.Value)
				}
				return strings.TrimRight(b.String(), "\n"), nil

			default:
				return "", fmt.Errorf("unknown action: %q", action)
			}
		},
	}
}
