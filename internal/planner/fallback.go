package planner

import (
	"regexp"
	"strings"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

var (
	segmentRe  = regexp.MustCompile(`(?i)\b(?:then|after that|next|finally)\b[,;]?\s*`)
	fileNameRe = regexp.MustCompile(`[\w./-]+\.\w+`)
	quotedRe   = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)
)

// fallbackPlan decomposes a prompt with rules alone: split on sequence
// markers, infer a tool per segment from its verbs and pull obvious
// arguments out of quotes and filenames. Used when the model's plan
// cannot be parsed.
func (p *Planner) fallbackPlan(prompt string) []*types.Task {
	logging.Planner("using rule-based plan for prompt (%d chars)", len(prompt))

	segments := segmentRe.Split(prompt, -1)
	var tasks []*types.Task
	for _, seg := range segments {
		seg = strings.TrimSpace(strings.Trim(seg, ".,;"))
		if seg == "" {
			continue
		}
		tasks = append(tasks, p.taskForSegment(seg))
	}
	if len(tasks) == 0 {
		tasks = append(tasks, &types.Task{
			Description: prompt,
			Kind:        types.TaskConversation,
			Status:      types.TaskPending,
			Response:    prompt,
		})
	}
	return tasks
}

// taskForSegment infers the tool and arguments for one prompt segment.
func (p *Planner) taskForSegment(seg string) *types.Task {
	lower := strings.ToLower(seg)
	task := &types.Task{
		Description: seg,
		Kind:        types.TaskToolCall,
		Status:      types.TaskPending,
	}

	file := fileNameRe.FindString(seg)
	quote := firstQuoted(seg)

	switch {
	case hasAny(lower, "create", "write", "make") && file != "":
		task.Tool = "write_file"
		task.Args = map[string]any{"path": file, "content": quote}

	case hasAny(lower, "edit", "modify", "replace") && file != "":
		task.Tool = "edit"
		task.Args = map[string]any{"path": file}

	case hasAny(lower, "read", "open", "show") && file != "":
		task.Tool = "read_file"
		task.Args = map[string]any{"path": file}

	case hasAny(lower, "run", "execute"):
		cmd := quote
		if cmd == "" {
			cmd = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(lower, "run"), "execute"))
		}
		task.Tool = "bash"
		task.Args = map[string]any{"command": cmd}

	case hasAny(lower, "search", "find", "grep"):
		pattern := quote
		if pattern == "" {
			pattern = seg
		}
		task.Tool = "grep"
		task.Args = map[string]any{"pattern": pattern}

	case hasAny(lower, "list"):
		task.Tool = "ls"
		task.Args = map[string]any{}

	case hasAny(lower, "fetch", "download", "url"):
		task.Tool = "web"
		task.Args = map[string]any{"url": fileNameRe.FindString(seg)}

	case hasAny(lower, "commit", "diff", "status") && strings.Contains(lower, "git"):
		task.Tool = "git"
		task.Args = map[string]any{"subcommand": "status"}

	case hasAny(lower, "remember", "memorize"):
		task.Tool = "memory"
		task.Args = map[string]any{"action": "set", "key": "note", "value": seg}

	default:
		task.Kind = types.TaskConversation
		task.Response = seg
	}
	return task
}

func firstQuoted(s string) string {
	m := quotedRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

func hasAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
