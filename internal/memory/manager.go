package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeforge/internal/budget"
	"codeforge/internal/config"
	"codeforge/internal/embedding"
	"codeforge/internal/logging"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

// Manager composes the four memory layers into a bounded prompt. The
// section order is fixed: preamble, mode declaration, knowledge,
// ephemeral, retrieved, user query, output contract.
type Manager struct {
	ephemeral *EphemeralLayer
	retrieval *RetrievalLayer
	knowledge *KnowledgeLayer
	git       *GitContextLayer

	counter *budget.Counter
}

// NewManager wires the layers for one project session.
func NewManager(st *store.LocalStore, engine *embedding.ResilientEngine, projectID, workDir string, cfg config.MemoryConfig) *Manager {
	return &Manager{
		ephemeral: NewEphemeralLayer(cfg.MaxTurns),
		retrieval: NewRetrievalLayer(st, engine, projectID, cfg),
		knowledge: NewKnowledgeLayer(st, projectID),
		git:       NewGitContextLayer(st, engine, projectID, workDir, cfg.GitMaxCommits),
		counter:   budget.NewCounter(),
	}
}

// Ephemeral returns the turn buffer layer.
func (m *Manager) Ephemeral() *EphemeralLayer { return m.ephemeral }

// Knowledge returns the knowledge layer.
func (m *Manager) Knowledge() *KnowledgeLayer { return m.knowledge }

// Git returns the git context layer.
func (m *Manager) Git() *GitContextLayer { return m.git }

// RetrievalIDs returns the chunk ids used by the latest composition.
func (m *Manager) RetrievalIDs() []string { return m.retrieval.LastIDs() }

// RestoreRetrievalIDs reloads the id set from a snapshot.
func (m *Manager) RestoreRetrievalIDs(ids []string) { m.retrieval.SetLastIDs(ids) }

// AppendTurn records a conversation turn in the ephemeral layer.
func (m *Manager) AppendTurn(role types.Role, content string) {
	m.ephemeral.AddTurn(types.Turn{
		Role:       role,
		Content:    content,
		Timestamp:  time.Now(),
		TokenCount: m.counter.Count(content),
	})
}

// ComposeOptions controls prompt composition.
type ComposeOptions struct {
	// IncludeExplanation makes the output contract request a non-null
	// explanation field.
	IncludeExplanation bool
}

// Compose builds the full prompt for one turn under bm's budget. Layer
// fragments that overflow their section are trimmed at a line boundary
// and retried once; the hard input ceiling is never crossed.
func (m *Manager) Compose(ctx context.Context, bm *budget.Manager, query string, opts ComposeOptions) (string, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Compose")
	defer timer.Stop()

	caps := bm.ModeCaps()

	// Query first so the layers see the budget it claims.
	query = strings.TrimSpace(query)
	trimmedQuery, err := m.addTrimmed(bm, budget.SectionQuery, query)
	if err != nil {
		return "", err
	}

	knowledgeText, _, err := m.knowledge.Gather(bm.Remaining(budget.SectionKnowledge), m.counter)
	if err != nil {
		return "", fmt.Errorf("knowledge gather: %w", err)
	}
	knowledgeText, err = m.addTrimmed(bm, budget.SectionKnowledge, knowledgeText)
	if err != nil {
		return "", err
	}

	ephemeralText, _ := m.ephemeral.Gather(bm.Remaining(budget.SectionEphemeral), m.counter)
	ephemeralText, err = m.addTrimmed(bm, budget.SectionEphemeral, ephemeralText)
	if err != nil {
		return "", err
	}

	// Retrieval takes whatever the section has left after the others
	// claimed theirs; git summaries ride in the same section.
	retrievalBudget := bm.Remaining(budget.SectionRetrieved)
	retrievedText, retrievedTokens, err := m.retrieval.Gather(ctx, query, retrievalBudget, m.counter, m.ephemeral.Working().FocusFiles)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("retrieval failed, composing without it: %v", err)
		retrievedText = ""
		retrievedTokens = 0
	}
	if gitText, _, _ := m.git.Gather(ctx, query, retrievalBudget-retrievedTokens, m.counter); gitText != "" {
		if retrievedText != "" {
			retrievedText += "\n\n"
		}
		retrievedText += "Recent related commits:\n" + gitText
	}
	retrievedText, err = m.addTrimmed(bm, budget.SectionRetrieved, retrievedText)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	// 1. System preamble.
	fmt.Fprintf(&b, "You are a coding assistant. Reason internally; do not emit reasoning "+
		"unless explicitly asked. Keep internal reasoning under %d tokens. "+
		"Your reply must follow the output contract at the end of this prompt.\n\n", caps.ReasoningCap)

	// 2. Mode declaration.
	fmt.Fprintf(&b, "Mode: %s (output cap %d tokens, reasoning cap %d tokens). "+
		"Respond in the contracted JSON shape only.\n\n", bm.Mode(), caps.OutputCap, caps.ReasoningCap)

	// 3. Knowledge.
	if knowledgeText != "" {
		b.WriteString(knowledgeText + "\n\n")
	}

	// 4. Ephemeral.
	if ephemeralText != "" {
		b.WriteString("Conversation so far:\n" + ephemeralText + "\n\n")
	}

	// 5. Retrieved.
	if retrievedText != "" {
		b.WriteString("Relevant project context:\n" + retrievedText + "\n\n")
	}

	// 6. User query.
	b.WriteString("User request:\n" + trimmedQuery + "\n\n")

	// 7. Output contract.
	if opts.IncludeExplanation {
		b.WriteString(`Respond with JSON: {"code": <string>, "explanation": <string>}`)
	} else {
		b.WriteString(`Respond with JSON: {"code": <string>, "explanation": null}`)
	}

	prompt := b.String()
	if total := m.counter.Count(prompt); total > bm.Limits().InputCeiling {
		return "", types.NewAgentError(types.KindBudgetExceeded, "memory",
			fmt.Sprintf("composed prompt %d tokens exceeds input ceiling %d", total, bm.Limits().InputCeiling), nil)
	}
	logging.MemoryDebug("composed prompt: ~%d tokens (budget used %d)", m.counter.Count(prompt), bm.TotalUsed())
	return prompt, nil
}

// addTrimmed records text against a section, trimming to the remaining
// budget and retrying once on BudgetExceeded.
func (m *Manager) addTrimmed(bm *budget.Manager, section budget.Section, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	err := bm.AddTo(section, text)
	if err == nil {
		return text, nil
	}
	if !types.IsKind(err, types.KindBudgetExceeded) {
		return "", err
	}

	trimmed := bm.TrimToFit(text, bm.Remaining(section))
	if trimmed == "" {
		logging.MemoryDebug("section %s budget exhausted, dropping fragment", section)
		return "", nil
	}
	if err := bm.AddTo(section, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// SerializeEphemeral returns the snapshot form of the turn buffer.
func (m *Manager) SerializeEphemeral() ([]byte, error) {
	return m.ephemeral.Serialize()
}

// RestoreEphemeral reloads the turn buffer from snapshot bytes.
func (m *Manager) RestoreEphemeral(data []byte) error {
	return m.ephemeral.Restore(data)
}
