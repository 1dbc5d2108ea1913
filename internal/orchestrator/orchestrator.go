// Package orchestrator drives one user turn end to end: compose the
// prompt under budget, plan, execute through the approval gate, and
// finalize memory and session counters. It owns the per-turn state
// machine and the event stream observers subscribe to.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeforge/internal/budget"
	"codeforge/internal/executor"
	"codeforge/internal/llm"
	"codeforge/internal/logging"
	"codeforge/internal/memory"
	"codeforge/internal/planner"
	"codeforge/internal/store"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

// State is the orchestrator turn state.
type State string

const (
	StateIdle       State = "idle"
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateFinalizing State = "finalizing"
)

// defaultSnapshotEvery is the operation cadence for session snapshots
// when the config does not override it.
const defaultSnapshotEvery = 3

// SnapshotFunc persists a session snapshot. Supplied by the session
// manager; nil disables snapshotting.
type SnapshotFunc func() error

// Orchestrator runs turns for one session.
type Orchestrator struct {
	client   llm.Client
	memory   *memory.Manager
	planner  *planner.Planner
	executor *executor.Executor
	store    *store.LocalStore
	emitter  *Emitter

	mode          types.Mode
	sessionID     string
	projectID     string
	workDir       string
	snapshot      SnapshotFunc
	limits        budget.Limits
	snapshotEvery int

	mu         sync.Mutex
	state      State
	opCount    int
	turnCount  int
	tokensUsed int
}

// Deps bundles the collaborators an orchestrator needs.
type Deps struct {
	Client    llm.Client
	Memory    *memory.Manager
	Planner   *planner.Planner
	Executor  *executor.Executor
	Store     *store.LocalStore
	Mode      types.Mode
	SessionID string
	ProjectID string
	WorkDir   string
	Snapshot  SnapshotFunc

	// Limits overrides the input budget; zero value means defaults.
	Limits budget.Limits
	// SnapshotEvery overrides the snapshot cadence; <=0 means default.
	SnapshotEvery int
}

// New creates an orchestrator in the idle state.
func New(d Deps) *Orchestrator {
	limits := d.Limits
	if limits == (budget.Limits{}) {
		limits = budget.DefaultLimits()
	}
	every := d.SnapshotEvery
	if every <= 0 {
		every = defaultSnapshotEvery
	}
	return &Orchestrator{
		client:        d.Client,
		memory:        d.Memory,
		planner:       d.Planner,
		executor:      d.Executor,
		store:         d.Store,
		emitter:       NewEmitter(),
		mode:          d.Mode,
		sessionID:     d.SessionID,
		projectID:     d.ProjectID,
		workDir:       d.WorkDir,
		snapshot:      d.Snapshot,
		limits:        limits,
		snapshotEvery: every,
	}
}

// Events returns the emitter for observer subscription.
func (o *Orchestrator) Events() *Emitter { return o.emitter }

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return StateIdle
	}
	return o.state
}

// Counters returns the cumulative turn and token counts.
func (o *Orchestrator) Counters() (turns, tokens int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnCount, o.tokensUsed
}

// RestoreCounters seeds cumulative counters from a resumed session.
func (o *Orchestrator) RestoreCounters(turns, tokens int) {
	o.mu.Lock()
	o.turnCount = turns
	o.tokensUsed = tokens
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// HandleTurn runs one user prompt to completion. It never panics out;
// every failure path lands in a TurnResult with Err set.
func (o *Orchestrator) HandleTurn(ctx context.Context, prompt string) *types.TurnResult {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "HandleTurn")
	defer timer.Stop()
	defer o.setState(StateIdle)

	logging.Audit(logging.AuditTurnStart, o.sessionID, map[string]any{"prompt_len": len(prompt)})

	o.setState(StatePlanning)
	o.emit(EventPlanningStart, map[string]any{"prompt_len": len(prompt)})

	bm := budget.NewManagerWithLimits(o.mode, o.limits)
	o.memory.AppendTurn(types.RoleUser, prompt)

	composed, err := o.memory.Compose(ctx, bm, prompt, memory.ComposeOptions{})
	if err != nil {
		return o.fail(err)
	}

	plan, err := o.planner.Plan(ctx, prompt)
	if err != nil {
		return o.fail(err)
	}
	o.emit(EventPlanningComplete, map[string]any{
		"tasks":          len(plan.Tasks),
		"complexity":     string(plan.Complexity),
		"parallelizable": plan.Parallelizable,
	})

	o.setState(StateExecuting)
	ec := executor.NewExecContext(o.workDir)
	execErr := o.executor.Execute(ctx, plan, ec, o.responder(bm, composed), o.observer())

	o.setState(StateFinalizing)
	return o.finalize(plan, ec, bm, execErr)
}

// responder answers conversation tasks through the model using the
// composed prompt.
func (o *Orchestrator) responder(bm *budget.Manager, composed string) executor.Responder {
	return func(ctx context.Context, task *types.Task) (string, error) {
		resp, err := o.client.Generate(ctx, llm.Request{
			Messages:  []llm.Message{{Role: "user", Content: composed}},
			JSONOnly:  true,
			MaxTokens: bm.ModeCaps().OutputCap,
		})
		if err != nil {
			return "", err
		}
		o.addTokens(resp.TokensUsed)
		return extractAnswer(resp.Text), nil
	}
}

// observer wires executor callbacks to events and the execution log.
func (o *Orchestrator) observer() *executor.Observer {
	return &executor.Observer{
		OnToolExecute: func(task *types.Task) {
			o.emit(EventToolExecute, map[string]any{"task": task.ID, "tool": task.Tool})
			logging.Audit(logging.AuditToolInvoke, o.sessionID, map[string]any{"tool": task.Tool})
		},
		OnToolResult: func(task *types.Task, result *tools.ToolResult) {
			detail := map[string]any{"task": task.ID, "tool": task.Tool}
			entry := &types.ExecutionLogEntry{
				ID:        uuid.NewString(),
				ProjectID: o.projectID,
				SessionID: o.sessionID,
				Tool:      task.Tool,
				Input:     task.Args,
			}
			if result != nil {
				detail["success"] = result.Success
				entry.Output = result.Output
				entry.ErrorMsg = result.Error
				entry.Duration = time.Duration(result.DurationMs) * time.Millisecond
				entry.Success = result.Success
			}
			o.emit(EventToolResult, detail)
			if err := o.store.AppendExecutionLog(entry); err != nil {
				logging.Orchestrator("execution log append failed: %v", err)
			}
			logging.Audit(logging.AuditToolComplete, o.sessionID, detail)
		},
	}
}

// finalize derives the turn result, records the assistant turn and
// bumps counters and snapshots.
func (o *Orchestrator) finalize(plan *types.TaskPlan, ec *executor.ExecContext, bm *budget.Manager, execErr error) *types.TurnResult {
	response := deriveResponse(plan)
	toolsUsed := completedTools(plan)

	if response != "" {
		o.memory.AppendTurn(types.RoleAssistant, response)
		o.emit(EventMemoryUpdate, map[string]any{"turns": 1, "files_created": len(ec.CreatedFiles())})
	}

	o.mu.Lock()
	o.turnCount++
	o.tokensUsed += bm.TotalUsed()
	o.opCount += len(plan.Tasks)
	takeSnapshot := o.opCount >= o.snapshotEvery
	if takeSnapshot {
		o.opCount = 0
	}
	turns, tokens := o.turnCount, o.tokensUsed
	o.mu.Unlock()

	o.emit(EventTokenUsage, map[string]any{"input_tokens": bm.TotalUsed(), "cumulative": tokens})
	if err := o.store.UpdateSessionCounters(o.sessionID, turns, tokens); err != nil {
		logging.Orchestrator("session counter update failed: %v", err)
	}

	if takeSnapshot && o.snapshot != nil {
		if err := o.snapshot(); err != nil {
			logging.Orchestrator("snapshot failed: %v", err)
		}
	}

	result := &types.TurnResult{
		Success:   execErr == nil,
		Response:  response,
		ToolsUsed: toolsUsed,
		Err:       execErr,
	}
	if execErr != nil {
		o.emit(EventError, map[string]any{"error": execErr.Error()})
	}
	o.emit(EventExecutionComplete, map[string]any{"success": result.Success, "tools": len(toolsUsed)})
	logging.Audit(logging.AuditTurnEnd, o.sessionID, map[string]any{"success": result.Success})
	return result
}

func (o *Orchestrator) fail(err error) *types.TurnResult {
	logging.Orchestrator("turn failed: %v", err)
	o.emit(EventError, map[string]any{"error": err.Error()})
	logging.Audit(logging.AuditTurnEnd, o.sessionID, map[string]any{"success": false})
	return &types.TurnResult{Success: false, Err: err}
}

func (o *Orchestrator) addTokens(n int) {
	if n <= 0 {
		return
	}
	o.mu.Lock()
	o.tokensUsed += n
	o.mu.Unlock()
}

func (o *Orchestrator) emit(kind EventKind, detail map[string]any) {
	o.emitter.Emit(Event{Kind: kind, SessionID: o.sessionID, Detail: detail})
}

// deriveResponse builds the user-facing reply from the executed plan:
// conversation answers verbatim, tool runs as a short report.
func deriveResponse(plan *types.TaskPlan) string {
	var conversational []string
	var report []string
	for _, task := range plan.Tasks {
		switch task.Status {
		case types.TaskCompleted:
			if task.Kind == types.TaskConversation {
				conversational = append(conversational, task.Response)
			} else {
				line := fmt.Sprintf("%s: %s", task.Tool, firstLine(task.Response))
				report = append(report, line)
			}
		case types.TaskFailed:
			report = append(report, fmt.Sprintf("%s failed: %v", task.Description, task.Err))
		case types.TaskCancelled:
			report = append(report, task.Description+": cancelled")
		}
	}
	if len(conversational) > 0 {
		return strings.Join(conversational, "\n")
	}
	return strings.Join(report, "\n")
}

func completedTools(plan *types.TaskPlan) []string {
	var out []string
	seen := map[string]bool{}
	for _, task := range plan.Tasks {
		if task.Status == types.TaskCompleted && task.Tool != "" && !seen[task.Tool] {
			seen[task.Tool] = true
			out = append(out, task.Tool)
		}
	}
	return out
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// extractAnswer unwraps the contracted JSON reply. Replies that do not
// parse are returned as-is; a malformed but useful answer beats an
// error.
func extractAnswer(text string) string {
	text = llm.StripThink(text)
	var contract struct {
		Code        string  `json:"code"`
		Explanation *string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(text), &contract); err == nil && contract.Code != "" {
		answer := contract.Code
		if contract.Explanation != nil && *contract.Explanation != "" {
			answer += "\n\n" + *contract.Explanation
		}
		return answer
	}
	return text
}
