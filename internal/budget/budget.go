// Package budget implements the token budget manager. Every component
// that wants to put text in front of the model asks this package first:
// the LLM's effective context is the binding constraint of the whole
// system.
package budget

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// Section names the budgeted prompt regions.
type Section string

const (
	SectionEphemeral Section = "ephemeral"
	SectionRetrieved Section = "retrieved"
	SectionKnowledge Section = "knowledge"
	SectionQuery     Section = "query"
)

// ModeCaps holds the per-mode output limits.
type ModeCaps struct {
	OutputCap    int
	ReasoningCap int
}

// Caps is the authoritative mode table.
var Caps = map[types.Mode]ModeCaps{
	types.ModeDirect:  {OutputCap: 1000, ReasoningCap: 200},
	types.ModeConcise: {OutputCap: 6000, ReasoningCap: 5000},
	types.ModeDeep:    {OutputCap: 15000, ReasoningCap: 12000},
}

// Limits holds the input-section targets and hard ceilings. Section
// values are targets; only InputCeiling and TotalCeiling are hard.
type Limits struct {
	Ephemeral    int
	Retrieved    int
	Knowledge    int
	Query        int
	Buffer       int // reserved headroom, never allocated
	InputCeiling int
	TotalCeiling int
}

// DefaultLimits returns the authoritative input budget, identical for
// all modes.
func DefaultLimits() Limits {
	return Limits{
		Ephemeral:    5000,
		Retrieved:    40000,
		Knowledge:    2000,
		Query:        2000,
		Buffer:       10000,
		InputCeiling: 128000,
		TotalCeiling: 160768,
	}
}

func (l Limits) target(s Section) int {
	switch s {
	case SectionEphemeral:
		return l.Ephemeral
	case SectionRetrieved:
		return l.Retrieved
	case SectionKnowledge:
		return l.Knowledge
	case SectionQuery:
		return l.Query
	}
	return 0
}

// Counter estimates token counts. The heuristic is calibrated at ~4
// characters per token, counting runes so multi-byte text is not
// over-charged.
type Counter struct {
	charsPerToken float64
}

// NewCounter returns a counter with the default calibration.
func NewCounter() *Counter {
	return &Counter{charsPerToken: 4.0}
}

// Count estimates tokens in a string.
func (c *Counter) Count(s string) int {
	if s == "" {
		return 0
	}
	return int(float64(utf8.RuneCountInString(s)) / c.charsPerToken)
}

// Manager tracks per-section usage for one orchestrator turn. It is
// per-turn state and is never shared across turns.
type Manager struct {
	mode    types.Mode
	limits  Limits
	counter *Counter
	used    map[Section]int
}

// NewManager creates a budget manager for the given mode with the
// default limits.
func NewManager(mode types.Mode) *Manager {
	return NewManagerWithLimits(mode, DefaultLimits())
}

// NewManagerWithLimits creates a budget manager with configured
// limits. Zero-valued ceilings fall back to the defaults so a partial
// config cannot disable the hard caps.
func NewManagerWithLimits(mode types.Mode, limits Limits) *Manager {
	def := DefaultLimits()
	if limits.InputCeiling <= 0 {
		limits.InputCeiling = def.InputCeiling
	}
	if limits.TotalCeiling <= 0 {
		limits.TotalCeiling = def.TotalCeiling
	}
	return &Manager{
		mode:    mode,
		limits:  limits,
		counter: NewCounter(),
		used:    make(map[Section]int),
	}
}

// Mode returns the operating mode.
func (m *Manager) Mode() types.Mode { return m.mode }

// ModeCaps returns the output caps for the manager's mode.
func (m *Manager) ModeCaps() ModeCaps { return Caps[m.mode] }

// Limits returns the input limits.
func (m *Manager) Limits() Limits { return m.limits }

// Count estimates tokens for text.
func (m *Manager) Count(text string) int { return m.counter.Count(text) }

// AddTo records usage of text against a section. The addition is
// all-or-nothing: if the section target plus remaining buffer headroom
// would be crossed, nothing is recorded and a BudgetExceeded error is
// returned.
func (m *Manager) AddTo(section Section, text string) error {
	tokens := m.counter.Count(text)
	target := m.limits.target(section)

	// Sections may borrow from the shared buffer headroom, but the
	// combined total must stay under the input ceiling minus the
	// untouched reserve.
	if m.used[section]+tokens > target+m.bufferRemaining() {
		logging.BudgetDebug("AddTo rejected: section=%s +%d used=%d target=%d", section, tokens, m.used[section], target)
		return types.NewAgentError(types.KindBudgetExceeded, "budget",
			fmt.Sprintf("section %s: %d tokens would exceed target %d", section, m.used[section]+tokens, target), nil)
	}
	if m.TotalUsed()+tokens > m.limits.InputCeiling {
		logging.BudgetDebug("AddTo rejected: input ceiling %d would be crossed", m.limits.InputCeiling)
		return types.NewAgentError(types.KindBudgetExceeded, "budget",
			fmt.Sprintf("input ceiling %d would be crossed", m.limits.InputCeiling), nil)
	}

	m.used[section] += tokens
	logging.BudgetDebug("AddTo: section=%s +%d (total=%d)", section, tokens, m.TotalUsed())
	return nil
}

// bufferRemaining returns the buffer headroom a section may borrow.
// Once any section exceeds its target, the overdraft is charged here.
func (m *Manager) bufferRemaining() int {
	overdraft := 0
	for s, used := range m.used {
		if t := m.limits.target(s); used > t {
			overdraft += used - t
		}
	}
	if overdraft >= m.limits.Buffer {
		return 0
	}
	return m.limits.Buffer - overdraft
}

// Remaining returns the unallocated tokens of a section (target minus
// used, floored at zero).
func (m *Manager) Remaining(section Section) int {
	r := m.limits.target(section) - m.used[section]
	if r < 0 {
		return 0
	}
	return r
}

// Used returns the tokens recorded against a section.
func (m *Manager) Used(section Section) int { return m.used[section] }

// TotalUsed returns the total recorded input tokens.
func (m *Manager) TotalUsed() int {
	total := 0
	for _, v := range m.used {
		total += v
	}
	return total
}

// Reset clears per-turn counters. Mode and caps are unchanged.
func (m *Manager) Reset() {
	m.used = make(map[Section]int)
}

// TrimToFit deterministically truncates text to at most maxTokens,
// preferring to cut at a line boundary. Applying it twice with the same
// limit is a no-op.
func (m *Manager) TrimToFit(text string, maxTokens int) string {
	return TrimToFit(m.counter, text, maxTokens)
}

// TrimToFit is the package-level trim used by the memory layers.
func TrimToFit(counter *Counter, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if counter.Count(text) <= maxTokens {
		return text
	}

	// Budget in runes, then back off to the previous newline so the cut
	// lands on a structural boundary when one exists.
	maxRunes := int(float64(maxTokens) * counter.charsPerToken)
	runes := []rune(text)
	if maxRunes >= len(runes) {
		return text
	}
	cut := string(runes[:maxRunes])
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
