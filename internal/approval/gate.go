package approval

import (
	"context"
	"fmt"
	"sync"

	"codeforge/internal/config"
	"codeforge/internal/logging"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

// Decision is the user's answer to an approval prompt.
type Decision int

const (
	ApproveOnce Decision = iota
	ApproveRemember
	DenyOnce
	DenyRemember
)

// Request describes the invocation awaiting a decision.
type Request struct {
	Tool        string
	Sensitivity tools.Sensitivity
	Args        map[string]any
}

// Prompter is the UI collaborator that blocks on the user. Prompts
// never time out; the context is cancelled only by a user interrupt.
type Prompter interface {
	Prompt(ctx context.Context, req Request) (Decision, error)
}

// AutoDeny is a Prompter that denies everything. Used for
// non-interactive runs where nobody can answer.
type AutoDeny struct{}

func (AutoDeny) Prompt(ctx context.Context, req Request) (Decision, error) {
	return DenyOnce, nil
}

// Gate classifies tool invocations and blocks on the user when the
// mode demands it. Remembered decisions live for the session only.
type Gate struct {
	mode       string
	classifier *Classifier
	policy     *Policy
	prompter   Prompter
	sessionID  string

	mu         sync.Mutex
	remembered map[string]bool // "tool/sensitivity" -> approved
}

// NewGate builds the gate.
func NewGate(cfg config.ApprovalConfig, classifier *Classifier, prompter Prompter, sessionID string) *Gate {
	return &Gate{
		mode:       cfg.Mode,
		classifier: classifier,
		policy:     NewPolicy(cfg),
		prompter:   prompter,
		sessionID:  sessionID,
		remembered: make(map[string]bool),
	}
}

// Check decides whether the invocation proceeds. It returns nil to
// allow, an ApprovalDenied error on denial, or a SecurityViolation
// when the permission policy blocks the call outright.
func (g *Gate) Check(ctx context.Context, toolName string, args map[string]any) error {
	if err := g.policy.Check(g.sessionID, toolName, args); err != nil {
		return err
	}

	sensitivity := g.classifier.Classify(toolName)
	if !g.needsPrompt(sensitivity) {
		logging.ApprovalDebug("%s allowed (sensitivity=%s mode=%s)", toolName, sensitivity, g.mode)
		return nil
	}

	key := toolName + "/" + string(sensitivity)
	g.mu.Lock()
	approved, ok := g.remembered[key]
	g.mu.Unlock()
	if ok {
		if approved {
			logging.ApprovalDebug("%s allowed (remembered)", toolName)
			return nil
		}
		return g.denied(toolName, "denied (remembered)")
	}

	decision, err := g.prompter.Prompt(ctx, Request{Tool: toolName, Sensitivity: sensitivity, Args: args})
	if err != nil {
		if ctx.Err() != nil {
			return types.NewAgentError(types.KindCancelled, "approval", "approval interrupted", ctx.Err())
		}
		return fmt.Errorf("approval prompt failed: %w", err)
	}

	switch decision {
	case ApproveRemember:
		g.remember(key, true)
		fallthrough
	case ApproveOnce:
		logging.Audit(logging.AuditApprovalGranted, g.sessionID, map[string]any{"tool": toolName})
		logging.Approval("%s approved by user (sensitivity=%s)", toolName, sensitivity)
		return nil
	case DenyRemember:
		g.remember(key, false)
		fallthrough
	default:
		return g.denied(toolName, "denied")
	}
}

// needsPrompt applies the mode matrix.
func (g *Gate) needsPrompt(s tools.Sensitivity) bool {
	switch g.mode {
	case config.ApprovalModeYolo:
		return false
	case config.ApprovalModeAutoEdit:
		return s == tools.SensitivityHigh
	default:
		return s != tools.SensitivityLow
	}
}

func (g *Gate) remember(key string, approved bool) {
	g.mu.Lock()
	g.remembered[key] = approved
	g.mu.Unlock()
}

func (g *Gate) denied(toolName, reason string) error {
	logging.Audit(logging.AuditApprovalDenied, g.sessionID, map[string]any{"tool": toolName})
	logging.Approval("%s %s", toolName, reason)
	return types.NewAgentError(types.KindApprovalDenied, "approval",
		fmt.Sprintf("%s: %s", toolName, reason), nil)
}
