package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/budget"
	"codeforge/internal/config"
	"codeforge/internal/embedding"
	"codeforge/internal/store"
	"codeforge/internal/types"
)

func newTestDeps(t *testing.T) (*store.LocalStore, *embedding.ResilientEngine, *types.Project) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	project, err := st.EnsureProject(t.TempDir())
	require.NoError(t, err)

	engine := embedding.NewResilientEngine(embedding.NewHashEngine(64))
	return st, engine, project
}

func turn(role types.Role, content string) types.Turn {
	return types.Turn{Role: role, Content: content, Timestamp: time.Now(), TokenCount: budget.NewCounter().Count(content)}
}

func TestEphemeralRingDropsOldest(t *testing.T) {
	l := NewEphemeralLayer(3)
	for i := 1; i <= 5; i++ {
		l.AddTurn(turn(types.RoleUser, fmt.Sprintf("message %d", i)))
	}

	turns := l.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "message 3", turns[0].Content)
	assert.Equal(t, "message 5", turns[2].Content)
}

func TestEphemeralGatherOldestFirst(t *testing.T) {
	l := NewEphemeralLayer(10)
	l.AddTurn(turn(types.RoleUser, "first question"))
	l.AddTurn(turn(types.RoleAssistant, "first answer"))
	l.AddTurn(turn(types.RoleUser, "second question"))

	text, _ := l.Gather(5000, budget.NewCounter())
	first := strings.Index(text, "first question")
	second := strings.Index(text, "second question")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second, "turns must be emitted oldest first")
}

func TestEphemeralGatherKeepsTwoNewestOverBudget(t *testing.T) {
	l := NewEphemeralLayer(10)
	long := strings.Repeat("lorem ipsum dolor sit amet ", 100)
	for i := 0; i < 4; i++ {
		l.AddTurn(turn(types.RoleUser, fmt.Sprintf("%d %s", i, long)))
	}

	text, _ := l.Gather(1, budget.NewCounter())
	assert.Contains(t, text, "2 lorem")
	assert.Contains(t, text, "3 lorem")
	assert.NotContains(t, text, "0 lorem")
	assert.NotContains(t, text, "1 lorem")
}

func TestEphemeralSerializeRestore(t *testing.T) {
	l := NewEphemeralLayer(10)
	l.AddTurn(turn(types.RoleUser, "hello"))
	l.AddTurn(turn(types.RoleAssistant, "hi"))
	l.Working().CurrentFile = "main.go"
	l.Working().FocusFiles = []string{"main.go", "util.go"}

	data, err := l.Serialize()
	require.NoError(t, err)

	restored := NewEphemeralLayer(10)
	require.NoError(t, restored.Restore(data))

	if diff := cmp.Diff(l.Turns(), restored.Turns()); diff != "" {
		t.Fatalf("turns mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, *l.Working(), *restored.Working())
}

func TestTTLCacheExpiry(t *testing.T) {
	c := newTTLCache(10 * time.Millisecond)
	c.Put("k", "v")
	assert.Equal(t, "v", c.Get("k"))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get("k"))
	assert.Equal(t, 0, c.Len())
}

func TestKnowledgeGatherEmpty(t *testing.T) {
	st, _, project := newTestDeps(t)
	l := NewKnowledgeLayer(st, project.ID)

	text, tokens, err := l.Gather(2000, budget.NewCounter())
	require.NoError(t, err)
	assert.Equal(t, "No project-specific knowledge stored.", text)
	assert.Greater(t, tokens, 0)
}

func TestKnowledgeGatherFormatsByImportance(t *testing.T) {
	st, _, project := newTestDeps(t)
	l := NewKnowledgeLayer(st, project.ID)

	require.NoError(t, l.Store("test-cmd", "go test ./...", "commands", 9))
	require.NoError(t, l.Store("style", "tabs not spaces", "conventions", 2))

	text, _, err := l.Gather(2000, budget.NewCounter())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Project Knowledge\n"))
	assert.Contains(t, text, "test-cmd: go test ./...")
	assert.Less(t, strings.Index(text, "test-cmd"), strings.Index(text, "style"),
		"higher importance must come first")
}

func TestRetrievalRelevance(t *testing.T) {
	st, engine, project := newTestDeps(t)
	ctx := context.Background()

	// 100 chunks across 10 files; exactly 3 contain the target
	// identifier as their dominant content.
	needle := "parse_widget_manifest loads the widget manifest parse_widget_manifest"
	for f := 0; f < 10; f++ {
		for i := 0; i < 10; i++ {
			content := fmt.Sprintf("filler content block file%d chunk%d with unrelated words", f, i)
			path := fmt.Sprintf("pkg/file%d.go", f)
			if f < 3 && i == 0 {
				content = needle
				path = fmt.Sprintf("pkg/target%d.go", f)
			}
			vec, _, err := engine.EmbedTagged(ctx, content)
			require.NoError(t, err)
			require.NoError(t, st.UpsertChunk(&types.Chunk{
				ID: fmt.Sprintf("c-%d-%d", f, i), ProjectID: project.ID,
				Path: path, Content: content, ChunkType: types.ChunkTypeCode,
				Embedding: vec, LastUsedAt: time.Now(),
			}))
		}
	}

	layer := NewRetrievalLayer(st, engine, project.ID, config.DefaultMemoryConfig(t.TempDir()))
	text, tokens, err := layer.Gather(ctx, needle, 40000, budget.NewCounter(), nil)
	require.NoError(t, err)

	for f := 0; f < 3; f++ {
		assert.Contains(t, text, fmt.Sprintf("pkg/target%d.go", f))
	}
	assert.LessOrEqual(t, tokens, 40000)
	assert.Len(t, layer.LastIDs(), 12, "initial K chunks emitted when budget allows")

	// The three relevant chunks rank first.
	firstFiller := strings.Index(text, "filler content")
	for f := 0; f < 3; f++ {
		assert.Less(t, strings.Index(text, fmt.Sprintf("pkg/target%d.go", f)), firstFiller)
	}
}

func TestRetrievalBudgetCutoff(t *testing.T) {
	st, engine, project := newTestDeps(t)
	ctx := context.Background()

	content := strings.Repeat("identifier_alpha beta gamma delta\n", 50)
	for i := 0; i < 5; i++ {
		vec, _, err := engine.EmbedTagged(ctx, content)
		require.NoError(t, err)
		require.NoError(t, st.UpsertChunk(&types.Chunk{
			ID: fmt.Sprintf("c%d", i), ProjectID: project.ID,
			Path: fmt.Sprintf("f%d.go", i), Content: content,
			ChunkType: types.ChunkTypeCode, Embedding: vec, LastUsedAt: time.Now(),
		}))
	}

	layer := NewRetrievalLayer(st, engine, project.ID, config.DefaultMemoryConfig(t.TempDir()))
	counter := budget.NewCounter()
	perChunk := counter.Count(content)

	// Budget for roughly two chunks.
	text, tokens, err := layer.Gather(ctx, "identifier_alpha", perChunk*2+perChunk/2, counter, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, tokens, perChunk*2+perChunk/2)
	assert.Len(t, layer.LastIDs(), 2)
	assert.NotEmpty(t, text)
}

func TestRetrievalProximityBoost(t *testing.T) {
	st, engine, project := newTestDeps(t)
	ctx := context.Background()

	// Two chunks with identical content; one lives in a focus file.
	content := "shared_symbol implementation details"
	vec, _, err := engine.EmbedTagged(ctx, content)
	require.NoError(t, err)
	old := time.Now().Add(-48 * time.Hour)
	for i, path := range []string{"plain.go", "focus.go"} {
		require.NoError(t, st.UpsertChunk(&types.Chunk{
			ID: fmt.Sprintf("p%d", i), ProjectID: project.ID, Path: path,
			Content: content, ChunkType: types.ChunkTypeCode, Embedding: vec, LastUsedAt: old,
		}))
	}

	layer := NewRetrievalLayer(st, engine, project.ID, config.DefaultMemoryConfig(t.TempDir()))
	text, _, err := layer.Gather(ctx, "shared_symbol", 40000, budget.NewCounter(), []string{"focus.go"})
	require.NoError(t, err)
	assert.Less(t, strings.Index(text, "focus.go"), strings.Index(text, "plain.go"),
		"focus-file chunk must rank first")
}

func TestGitLayerInertOutsideRepo(t *testing.T) {
	st, engine, project := newTestDeps(t)
	l := NewGitContextLayer(st, engine, project.ID, t.TempDir(), 50)

	text, tokens, err := l.Gather(context.Background(), "anything", 1000, budget.NewCounter())
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Zero(t, tokens)
}

func TestComposeSectionOrder(t *testing.T) {
	st, engine, project := newTestDeps(t)
	m := NewManager(st, engine, project.ID, t.TempDir(), config.DefaultMemoryConfig(t.TempDir()))

	require.NoError(t, m.Knowledge().Store("build", "make all", "commands", 5))
	m.AppendTurn(types.RoleUser, "earlier question")
	m.AppendTurn(types.RoleAssistant, "earlier answer")

	bm := budget.NewManager(types.ModeConcise)
	prompt, err := m.Compose(context.Background(), bm, "how do I build?", ComposeOptions{})
	require.NoError(t, err)

	idx := func(s string) int { return strings.Index(prompt, s) }
	assert.Greater(t, idx("Mode: concise"), idx("coding assistant"))
	assert.Greater(t, idx("Project Knowledge"), idx("Mode: concise"))
	assert.Greater(t, idx("Conversation so far:"), idx("Project Knowledge"))
	assert.Greater(t, idx("User request:"), idx("Conversation so far:"))
	assert.Greater(t, idx(`"explanation": null`), idx("User request:"))
	assert.Contains(t, prompt, "how do I build?")
}

func TestComposeHugeQueryStaysUnderCeiling(t *testing.T) {
	st, engine, project := newTestDeps(t)
	m := NewManager(st, engine, project.ID, t.TempDir(), config.DefaultMemoryConfig(t.TempDir()))

	// ~100k tokens of query; composition must trim, not crash.
	huge := strings.Repeat("word another line of query text\n", 14000)
	bm := budget.NewManager(types.ModeConcise)
	prompt, err := m.Compose(context.Background(), bm, huge, ComposeOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, budget.NewCounter().Count(prompt), bm.Limits().InputCeiling)
	assert.LessOrEqual(t, bm.TotalUsed(), bm.Limits().InputCeiling)
}

func TestComposeIncludeExplanation(t *testing.T) {
	st, engine, project := newTestDeps(t)
	m := NewManager(st, engine, project.ID, t.TempDir(), config.DefaultMemoryConfig(t.TempDir()))

	bm := budget.NewManager(types.ModeDirect)
	prompt, err := m.Compose(context.Background(), bm, "explain this", ComposeOptions{IncludeExplanation: true})
	require.NoError(t, err)
	assert.Contains(t, prompt, `"explanation": <string>`)
}
