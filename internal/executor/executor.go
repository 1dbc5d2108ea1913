// Package executor runs task plans: dependency-ordered dispatch
// through the approval gate and tool registry, bounded parallelism for
// independent tasks, per-operation timeouts and retry with backoff.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"codeforge/internal/approval"
	"codeforge/internal/logging"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

const (
	// maxAttempts is the total tries per retryable task.
	maxAttempts = 3

	// poolWidth bounds parallel siblings.
	poolWidth = 3

	retryBaseBackoff = time.Second
	retryMaxBackoff  = 10 * time.Second
)

// toolTimeouts is the per-operation default timeout table.
var toolTimeouts = map[string]time.Duration{
	"read_file":  5 * time.Second,
	"write_file": 10 * time.Second,
	"edit":       10 * time.Second,
	"bash":       30 * time.Second,
	"web":        15 * time.Second,
	"grep":       30 * time.Second,
	"ls":         5 * time.Second,
	"git":        30 * time.Second,
	"memory":     5 * time.Second,
}

const (
	defaultTaskTimeout = 30 * time.Second

	// largeFileTimeout applies to file operations whose target is at
	// least largeFileThreshold bytes.
	largeFileTimeout   = 120 * time.Second
	largeFileThreshold = 1 << 20
)

// fileTools operate on a single path and qualify for the large-file
// timeout class.
var fileTools = map[string]bool{"read_file": true, "write_file": true, "edit": true}

// ExecContext carries the cross-task execution state threaded through
// a plan.
type ExecContext struct {
	WorkDir string

	mu           sync.Mutex
	createdFiles []string
	taskHistory  []string
	results      map[string]string // task id -> output
}

// NewExecContext creates an empty execution context.
func NewExecContext(workDir string) *ExecContext {
	return &ExecContext{WorkDir: workDir, results: make(map[string]string)}
}

// CreatedFiles returns the files written so far.
func (ec *ExecContext) CreatedFiles() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]string, len(ec.createdFiles))
	copy(out, ec.createdFiles)
	return out
}

// TaskHistory returns the completed task descriptions in order.
func (ec *ExecContext) TaskHistory() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]string, len(ec.taskHistory))
	copy(out, ec.taskHistory)
	return out
}

// Result returns a completed task's output.
func (ec *ExecContext) Result(taskID string) string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.results[taskID]
}

func (ec *ExecContext) record(task *types.Task, output string, createdFile string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.taskHistory = append(ec.taskHistory, task.Description)
	ec.results[task.ID] = output
	if createdFile != "" {
		ec.createdFiles = append(ec.createdFiles, createdFile)
	}
}

// Responder produces the assistant message for a conversation task
// whose response was not already set by the planner.
type Responder func(ctx context.Context, task *types.Task) (string, error)

// Observer receives task lifecycle callbacks. Fields may be nil.
type Observer struct {
	OnToolExecute func(task *types.Task)
	OnToolResult  func(task *types.Task, result *tools.ToolResult)
}

func (o *Observer) execute(task *types.Task) {
	if o != nil && o.OnToolExecute != nil {
		o.OnToolExecute(task)
	}
}

func (o *Observer) result(task *types.Task, result *tools.ToolResult) {
	if o != nil && o.OnToolResult != nil {
		o.OnToolResult(task, result)
	}
}

// Executor dispatches plans.
type Executor struct {
	registry *tools.Registry
	gate     *approval.Gate
}

// New creates an executor over the registry and gate.
func New(registry *tools.Registry, gate *approval.Gate) *Executor {
	return &Executor{registry: registry, gate: gate}
}

// Execute runs every task of the plan. Independent tasks run in a
// bounded parallel pool; tasks with dependencies run strictly in plan
// order. The returned error is the first unrecovered task failure;
// task statuses carry the full picture.
func (e *Executor) Execute(ctx context.Context, plan *types.TaskPlan, ec *ExecContext, responder Responder, obs *Observer) error {
	timer := logging.StartTimer(logging.CategoryExecutor, "Execute")
	defer timer.Stop()

	if plan.Parallelizable && len(plan.Tasks) > 1 {
		return e.executeParallel(ctx, plan, ec, responder, obs)
	}
	return e.executeSequential(ctx, plan, ec, responder, obs)
}

func (e *Executor) executeSequential(ctx context.Context, plan *types.TaskPlan, ec *ExecContext, responder Responder, obs *Observer) error {
	byID := make(map[string]*types.Task, len(plan.Tasks))
	for _, t := range plan.Tasks {
		byID[t.ID] = t
	}

	var firstErr error
	for i, task := range plan.Tasks {
		if ctx.Err() != nil {
			cancelRemaining(plan.Tasks[i:])
			if firstErr == nil {
				firstErr = types.NewAgentError(types.KindCancelled, "executor", "plan cancelled", ctx.Err())
			}
			break
		}

		// A task inherits cancellation from failed or cancelled deps.
		if dep := failedDependency(task, byID); dep != nil {
			task.Status = types.TaskCancelled
			logging.ExecutorDebug("%s cancelled: dependency %s is %s", task.ID, dep.ID, dep.Status)
			continue
		}

		err := e.runTask(ctx, task, ec, responder, obs)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if task.Status == types.TaskFailed {
			// Stop on failure: everything after this point is cancelled.
			cancelRemaining(plan.Tasks[i+1:])
			break
		}
	}
	return firstErr
}

func (e *Executor) executeParallel(ctx context.Context, plan *types.TaskPlan, ec *ExecContext, responder Responder, obs *Observer) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolWidth)

	var mu sync.Mutex
	var firstErr error
	for _, task := range plan.Tasks {
		task := task
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				if task.Status == types.TaskPending {
					task.Status = types.TaskCancelled
				}
				mu.Unlock()
				return nil
			}
			if err := e.runTask(gctx, task, ec, responder, obs); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			// Siblings are independent; one failure does not stop the
			// others, so never propagate through the group.
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		cancelRemaining(plan.Tasks)
		if firstErr == nil {
			firstErr = types.NewAgentError(types.KindCancelled, "executor", "plan cancelled", ctx.Err())
		}
	}
	return firstErr
}

// runTask executes one task through gate, registry, retry and timeout.
func (e *Executor) runTask(ctx context.Context, task *types.Task, ec *ExecContext, responder Responder, obs *Observer) error {
	task.Status = types.TaskRunning

	if task.Kind == types.TaskConversation {
		if task.Response == "" && responder != nil {
			response, err := responder(ctx, task)
			if err != nil {
				return e.fail(task, err)
			}
			task.Response = response
		}
		task.Status = types.TaskCompleted
		ec.record(task, task.Response, "")
		return nil
	}

	if err := e.gate.Check(ctx, task.Tool, task.Args); err != nil {
		return e.fail(task, err)
	}

	obs.execute(task)

	var result *tools.ToolResult
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBaseBackoff << uint(attempt-2)
			if backoff > retryMaxBackoff {
				backoff = retryMaxBackoff
			}
			select {
			case <-ctx.Done():
				task.Status = types.TaskCancelled
				return types.NewAgentError(types.KindCancelled, "executor", task.ID+" cancelled", ctx.Err())
			case <-time.After(backoff):
			}
			task.Retries++
			logging.ExecutorDebug("%s retry %d/%d", task.ID, attempt-1, maxAttempts-1)
		}

		taskCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(ec, task))
		result, lastErr = e.registry.Execute(taskCtx, task.Tool, task.Args)
		cancel()

		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			task.Status = types.TaskCancelled
			obs.result(task, result)
			return types.NewAgentError(types.KindCancelled, "executor", task.ID+" cancelled", ctx.Err())
		}
		if !types.Retryable(lastErr) {
			break
		}
	}

	obs.result(task, result)

	if lastErr != nil {
		return e.fail(task, lastErr)
	}
	task.Status = types.TaskCompleted
	task.Response = result.Output

	createdFile := ""
	if task.Tool == "write_file" {
		createdFile, _ = task.Args["path"].(string)
	}
	ec.record(task, result.Output, createdFile)
	return nil
}

func (e *Executor) fail(task *types.Task, err error) error {
	task.Status = types.TaskFailed
	task.Err = err
	logging.Executor("%s failed: %v", task.ID, err)
	return fmt.Errorf("task %s: %w", task.ID, err)
}

// timeoutFor returns the task's timeout: explicit value first, then
// the large-file class for file operations on big targets, then the
// per-tool table, then the default.
func (e *Executor) timeoutFor(ec *ExecContext, task *types.Task) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	if fileTools[task.Tool] {
		if path, ok := task.Args["path"].(string); ok && path != "" {
			if !filepath.IsAbs(path) {
				path = filepath.Join(ec.WorkDir, path)
			}
			if fi, err := os.Stat(path); err == nil && fi.Size() >= largeFileThreshold {
				return largeFileTimeout
			}
		}
	}
	if t, ok := toolTimeouts[task.Tool]; ok {
		return t
	}
	return defaultTaskTimeout
}

func failedDependency(task *types.Task, byID map[string]*types.Task) *types.Task {
	for _, dep := range task.DependsOn {
		d, ok := byID[dep]
		if !ok {
			continue
		}
		if d.Status == types.TaskFailed || d.Status == types.TaskCancelled {
			return d
		}
	}
	return nil
}

func cancelRemaining(tasks []*types.Task) {
	for _, t := range tasks {
		if t.Status == types.TaskPending {
			t.Status = types.TaskCancelled
		}
	}
}
