package planner

import (
	"strings"

	"codeforge/internal/types"
)

// sequenceMarkers indicate multi-step requests.
var sequenceMarkers = []string{"then", "after", "next", "finally"}

// toolVerbs indicate that a prompt wants an action, not conversation.
var toolVerbs = []string{
	"create", "write", "make", "run", "execute", "search", "find",
	"grep", "read", "open", "edit", "modify", "replace", "delete",
	"list", "fetch", "download", "install", "build", "test", "commit",
}

// classify buckets a prompt into simple, moderate or complex using
// word count, sequence markers and tool verbs.
func classify(prompt string) types.Complexity {
	words := strings.Fields(strings.ToLower(prompt))

	markers := 0
	verbs := 0
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?'\"")
		if containsWord(sequenceMarkers, w) {
			markers++
		}
		if containsWord(toolVerbs, w) {
			verbs++
		}
	}

	switch {
	case markers >= 2 || (markers >= 1 && verbs >= 2) || len(words) > 60:
		return types.ComplexityComplex
	case markers >= 1 || verbs >= 1 || len(words) > 25:
		return types.ComplexityModerate
	default:
		return types.ComplexitySimple
	}
}

// hasToolVerb reports whether the prompt contains any action verb.
func hasToolVerb(prompt string) bool {
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		if containsWord(toolVerbs, strings.Trim(w, ".,;:!?'\"")) {
			return true
		}
	}
	return false
}

func containsWord(set []string, w string) bool {
	for _, s := range set {
		if s == w {
			return true
		}
	}
	return false
}
