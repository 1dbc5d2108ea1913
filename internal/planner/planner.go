// Package planner turns a user prompt into a dependency-aware task
// plan. Planning is LLM-assisted with a JSON-constrained prompt; a
// malformed response gets one repair pass and then a rule-based
// decomposition so the turn never dies on bad model output.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"codeforge/internal/budget"
	"codeforge/internal/llm"
	"codeforge/internal/logging"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

// maxTasksPerPlan bounds plan size; extra model-proposed tasks are
// merged into the last one.
const maxTasksPerPlan = 8

// backReference marks a task as depending on the previous one. Whole
// words only, so "items" or "iterate" never count as a reference.
var backReference = regexp.MustCompile(`\b(it|that|its|the file)\b`)

// Planner produces task plans.
type Planner struct {
	client   llm.Client
	registry *tools.Registry
}

// New creates a planner over the given model client and tool registry.
func New(client llm.Client, registry *tools.Registry) *Planner {
	return &Planner{client: client, registry: registry}
}

// Plan decomposes a prompt into a TaskPlan.
func (p *Planner) Plan(ctx context.Context, prompt string) (*types.TaskPlan, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Plan")
	defer timer.Stop()

	prompt = strings.TrimSpace(prompt)
	complexity := classify(prompt)

	// Empty or purely conversational prompts short-circuit the model.
	if prompt == "" {
		return p.finish(prompt, complexity, []*types.Task{{
			Description: "empty prompt",
			Kind:        types.TaskConversation,
			Status:      types.TaskPending,
		}})
	}
	// Response stays empty: the orchestrator answers conversation
	// tasks through the model with the fully composed prompt.
	if complexity == types.ComplexitySimple && !hasToolVerb(prompt) {
		return p.finish(prompt, complexity, []*types.Task{{
			Description: prompt,
			Kind:        types.TaskConversation,
			Status:      types.TaskPending,
		}})
	}

	tasks, err := p.planWithModel(ctx, prompt)
	if err != nil {
		logging.Planner("model planning failed (%v), falling back to rules", err)
		tasks = p.fallbackPlan(prompt)
	}
	return p.finish(prompt, complexity, tasks)
}

// planResponse is the JSON shape demanded from the model.
type planResponse struct {
	Type     string     `json:"type"` // conversation | tasks
	Response string     `json:"response,omitempty"`
	Tasks    []planTask `json:"tasks,omitempty"`
}

type planTask struct {
	Description string   `json:"description"`
	Type        string   `json:"type"` // conversation | tool-call | multi-step
	Tools       []string `json:"tools,omitempty"`
	Action      string   `json:"action,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	Content     string   `json:"content,omitempty"`
	Command     string   `json:"command,omitempty"`
	DependsOn   []int    `json:"depends_on,omitempty"`
}

// planWithModel asks the model for a structured plan. The token
// request always uses the deep output cap so plans are not truncated.
func (p *Planner) planWithModel(ctx context.Context, prompt string) ([]*types.Task, error) {
	resp, err := p.client.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: p.systemPrompt()},
			{Role: "user", Content: prompt},
		},
		JSONOnly:  true,
		MaxTokens: budget.Caps[types.ModeDeep].OutputCap,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parseOrRepair(resp.Text)
	if err != nil {
		return nil, err
	}

	if parsed.Type == "conversation" {
		return []*types.Task{{
			Description: prompt,
			Kind:        types.TaskConversation,
			Status:      types.TaskPending,
			Response:    parsed.Response,
		}}, nil
	}
	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("model returned a task plan with no tasks")
	}

	var tasks []*types.Task
	for _, pt := range parsed.Tasks {
		task := p.convertTask(pt)
		for _, dep := range pt.DependsOn {
			if dep >= 0 && dep < len(parsed.Tasks) {
				task.DependsOn = append(task.DependsOn, fmt.Sprintf("task-%d", dep+1))
			}
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a task planner for a coding assistant. Decompose the user request into tool tasks.\n\nAvailable tools:\n")
	for _, t := range p.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString(`
Respond with exactly one of these JSON shapes and nothing else:
{"type":"conversation","response":"<your answer>"}
{"type":"tasks","tasks":[{"description":"...","type":"tool-call","tools":["write_file"],"action":"create","filename":"...","content":"...","command":"...","depends_on":[0]}]}

Rules: at most ` + fmt.Sprint(maxTasksPerPlan) + ` tasks; depends_on holds zero-based indices of prerequisite tasks; omit fields that do not apply.`)
	return b.String()
}

// convertTask maps a model task onto the domain task, building tool
// arguments from the structured fields.
func (p *Planner) convertTask(pt planTask) *types.Task {
	task := &types.Task{
		Description: pt.Description,
		Status:      types.TaskPending,
	}
	switch pt.Type {
	case "conversation":
		task.Kind = types.TaskConversation
		task.Response = pt.Description
		return task
	case "multi-step":
		task.Kind = types.TaskMultiStep
	default:
		task.Kind = types.TaskToolCall
	}

	if len(pt.Tools) > 0 {
		task.Tool = pt.Tools[0]
	}
	args := map[string]any{}
	switch task.Tool {
	case "write_file":
		args["path"] = pt.Filename
		args["content"] = pt.Content
	case "read_file":
		args["path"] = pt.Filename
	case "edit":
		args["path"] = pt.Filename
	case "bash":
		args["command"] = pt.Command
	case "grep":
		args["pattern"] = pt.Content
	case "web":
		args["url"] = pt.Content
	case "git":
		args["subcommand"] = pt.Command
	}
	task.Args = args
	return task
}

// parseOrRepair decodes the model response, attempting one repair pass
// on malformed JSON.
func parseOrRepair(raw string) (*planResponse, error) {
	var parsed planResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err == nil {
		return &parsed, nil
	}

	repaired := repairJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, types.NewAgentError(types.KindLLMMalformed, "planner",
			"plan response is not valid JSON after repair", err)
	}
	logging.PlannerDebug("plan JSON required repair")
	return &parsed, nil
}

// finish normalizes a task list into a TaskPlan: ids, the task cap,
// dependency inference, the parallelizable flag and cycle detection.
func (p *Planner) finish(prompt string, complexity types.Complexity, tasks []*types.Task) (*types.TaskPlan, error) {
	// Merge overflow tasks into the last kept task.
	if len(tasks) > maxTasksPerPlan {
		kept := tasks[:maxTasksPerPlan]
		var merged []string
		for _, t := range tasks[maxTasksPerPlan-1:] {
			merged = append(merged, t.Description)
		}
		kept[maxTasksPerPlan-1].Description = strings.Join(merged, "; ")
		tasks = kept
		logging.Planner("plan truncated to %d tasks", maxTasksPerPlan)
	}

	for i, t := range tasks {
		t.ID = fmt.Sprintf("task-%d", i+1)
	}

	// A task referring back to a previous result depends on it.
	for i, t := range tasks {
		if i == 0 || len(t.DependsOn) > 0 {
			continue
		}
		if backReference.MatchString(strings.ToLower(t.Description)) {
			t.DependsOn = []string{tasks[i-1].ID}
		}
	}

	if err := detectCycle(tasks); err != nil {
		return nil, err
	}

	parallelizable := true
	for _, t := range tasks {
		if len(t.DependsOn) > 0 {
			parallelizable = false
			break
		}
	}

	plan := &types.TaskPlan{
		Prompt:         prompt,
		Complexity:     complexity,
		Tasks:          tasks,
		Parallelizable: parallelizable,
	}
	logging.Planner("plan: %d tasks, complexity=%s, parallelizable=%v", len(tasks), complexity, parallelizable)
	return plan, nil
}

// detectCycle rejects plans whose dependency graph is not a DAG.
func detectCycle(tasks []*types.Task) error {
	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))

	var visit func(t *types.Task) error
	visit = func(t *types.Task) error {
		switch state[t.ID] {
		case visiting:
			return types.NewAgentError(types.KindLLMMalformed, "planner",
				fmt.Sprintf("circular dependency involving %s", t.ID), nil)
		case done:
			return nil
		}
		state[t.ID] = visiting
		for _, dep := range t.DependsOn {
			d, ok := byID[dep]
			if !ok {
				return types.NewAgentError(types.KindLLMMalformed, "planner",
					fmt.Sprintf("%s depends on unknown task %s", t.ID, dep), nil)
			}
			if err := visit(d); err != nil {
				return err
			}
		}
		state[t.ID] = done
		return nil
	}

	for _, t := range tasks {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}
