package memory

import (
	"fmt"
	"strings"

	"codeforge/internal/budget"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

const (
	knowledgeHeader = "Project Knowledge"
	knowledgeEmpty  = "No project-specific knowledge stored."
	knowledgeTopN   = 10
)

// KnowledgeLayer surfaces long-lived project facts.
type KnowledgeLayer struct {
	store     *store.LocalStore
	projectID string
}

// NewKnowledgeLayer creates the layer for a project.
func NewKnowledgeLayer(st *store.LocalStore, projectID string) *KnowledgeLayer {
	return &KnowledgeLayer{store: st, projectID: projectID}
}

// Gather formats the top entries by importance as key: value lines
// under a header. An empty store yields a fixed empty-state string.
func (l *KnowledgeLayer) Gather(tokenBudget int, counter *budget.Counter) (string, int, error) {
	entries, err := l.store.TopKnowledge(l.projectID, knowledgeTopN)
	if err != nil {
		return "", 0, err
	}
	if len(entries) == 0 {
		return knowledgeEmpty, counter.Count(knowledgeEmpty), nil
	}

	var b strings.Builder
	b.WriteString(knowledgeHeader + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Key, e.Value)
	}

	text := strings.TrimRight(b.String(), "\n")
	text = budget.TrimToFit(counter, text, tokenBudget)
	return text, counter.Count(text), nil
}

// Store writes or updates an entry.
func (l *KnowledgeLayer) Store(key, value, category string, importance float64) error {
	return l.store.StoreKnowledge(&types.KnowledgeEntry{
		ProjectID:  l.projectID,
		Key:        key,
		Value:      value,
		Category:   category,
		Importance: importance,
	})
}
