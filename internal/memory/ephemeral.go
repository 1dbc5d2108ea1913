// Package memory implements the four memory layers and the manager
// that composes them into a token-bounded prompt: the ephemeral turn
// buffer, embedding-based retrieval over indexed chunks, the long-lived
// knowledge store and the git history layer.
package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"codeforge/internal/budget"
	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// minTurnsKept is the number of newest turns the ephemeral layer emits
// even when they exceed the section budget.
const minTurnsKept = 2

// WorkingContext tracks what the session is currently focused on.
type WorkingContext struct {
	CurrentFile string   `json:"current_file,omitempty"`
	FocusFiles  []string `json:"focus_files,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	CurrentDiff string   `json:"current_diff,omitempty"`
}

// EphemeralLayer is the bounded ring of recent turns plus the working
// context. It is owned by the session and mutated only from the control
// loop; the side cache has its own lock.
type EphemeralLayer struct {
	turns    []types.Turn
	maxTurns int
	working  WorkingContext

	cache *ttlCache
}

// NewEphemeralLayer creates an empty layer holding at most maxTurns.
func NewEphemeralLayer(maxTurns int) *EphemeralLayer {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &EphemeralLayer{
		maxTurns: maxTurns,
		cache:    newTTLCache(15 * time.Minute),
	}
}

// AddTurn appends a turn, dropping the oldest when the ring is full.
func (l *EphemeralLayer) AddTurn(turn types.Turn) {
	l.turns = append(l.turns, turn)
	if len(l.turns) > l.maxTurns {
		l.turns = l.turns[len(l.turns)-l.maxTurns:]
	}
}

// Turns returns a copy of the buffered turns, oldest first.
func (l *EphemeralLayer) Turns() []types.Turn {
	out := make([]types.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Working returns a pointer to the working context for mutation.
func (l *EphemeralLayer) Working() *WorkingContext { return &l.working }

// Cache returns the transient lookup cache. Cache contents never enter
// the prompt.
func (l *EphemeralLayer) Cache() *ttlCache { return l.cache }

// Gather formats the most recent turns that fit the budget, selected
// newest-first but emitted oldest-first. The two newest turns are
// always included even if they alone exceed the budget.
func (l *EphemeralLayer) Gather(tokenBudget int, counter *budget.Counter) (string, int) {
	if len(l.turns) == 0 {
		return "", 0
	}

	var kept []types.Turn
	used := 0
	for i := len(l.turns) - 1; i >= 0; i-- {
		turn := l.turns[i]
		cost := counter.Count(formatTurn(turn))
		if used+cost > tokenBudget && len(kept) >= minTurnsKept {
			break
		}
		kept = append(kept, turn)
		used += cost
	}

	// Reverse to chronological order.
	var b strings.Builder
	for i := len(kept) - 1; i >= 0; i-- {
		b.WriteString(formatTurn(kept[i]))
		b.WriteByte('\n')
	}

	if wc := l.formatWorking(); wc != "" {
		b.WriteString(wc)
		used += counter.Count(wc)
	}

	text := strings.TrimRight(b.String(), "\n")
	logging.MemoryDebug("ephemeral gather: %d/%d turns, ~%d tokens", len(kept), len(l.turns), used)
	return text, counter.Count(text)
}

func (l *EphemeralLayer) formatWorking() string {
	var parts []string
	if l.working.CurrentFile != "" {
		parts = append(parts, "Current file: "+l.working.CurrentFile)
	}
	if len(l.working.FocusFiles) > 0 {
		parts = append(parts, "Focus files: "+strings.Join(l.working.FocusFiles, ", "))
	}
	if l.working.LastError != "" {
		parts = append(parts, "Last error: "+l.working.LastError)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n") + "\n"
}

func formatTurn(t types.Turn) string {
	return fmt.Sprintf("[%s] %s", t.Role, t.Content)
}

// ephemeralState is the serialized snapshot form.
type ephemeralState struct {
	Turns   []types.Turn   `json:"turns"`
	Working WorkingContext `json:"working"`
}

// Serialize encodes the layer for a session snapshot. The side cache
// is transient and not included.
func (l *EphemeralLayer) Serialize() ([]byte, error) {
	return json.Marshal(ephemeralState{Turns: l.turns, Working: l.working})
}

// Restore replaces the layer contents from snapshot bytes.
func (l *EphemeralLayer) Restore(data []byte) error {
	var state ephemeralState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to restore ephemeral state: %w", err)
	}
	l.turns = state.Turns
	if len(l.turns) > l.maxTurns {
		l.turns = l.turns[len(l.turns)-l.maxTurns:]
	}
	l.working = state.Working
	return nil
}

// TokenSum returns the summed token counts of buffered turns.
func (l *EphemeralLayer) TokenSum() int {
	total := 0
	for _, t := range l.turns {
		total += t.TokenCount
	}
	return total
}

// ttlCache is a small LRU-ish cache with per-entry TTL for transient
// lookups (parsed files, resolved paths). Entries expire after the TTL
// and are pruned lazily.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ttlEntry
}

type ttlEntry struct {
	value   any
	expires time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: make(map[string]ttlEntry)}
}

// Get returns the cached value, or nil if absent or expired.
func (c *ttlCache) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil
	}
	return e.value
}

// Put stores a value under the cache TTL.
func (c *ttlCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{value: value, expires: time.Now().Add(c.ttl)}
}

// Len returns the number of live entries, pruning expired ones.
func (c *ttlCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	return len(c.entries)
}
