package planner

import (
	"strings"
)

// repairJSON makes one pass at fixing a truncated or sloppy model
// response: strips markdown fences, removes trailing commas and
// balances open brackets and braces. It never loops; if the result
// still fails to parse the caller falls back to rule-based planning.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Drop markdown fences.
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// Cut anything before the first brace.
	if idx := strings.IndexByte(s, '{'); idx > 0 {
		s = s[idx:]
	}

	// Strip trailing commas before closers.
	s = strings.ReplaceAll(s, ",]", "]")
	s = strings.ReplaceAll(s, ",}", "}")
	s = strings.ReplaceAll(s, ", ]", "]")
	s = strings.ReplaceAll(s, ", }", "}")

	// Balance brackets, ignoring ones inside string literals.
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			stack = append(stack, c)
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	// A string left open at the end of truncated output must be closed
	// before the brackets.
	if inString {
		s = strings.TrimRight(s, ",")
		s += `"`
	}
	s = strings.TrimRight(s, ",")
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return s
}
