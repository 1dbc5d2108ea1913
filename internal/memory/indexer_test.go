package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLineWindows(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 120; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}

	windows := splitLineWindows(b.String())
	require.NotEmpty(t, windows)

	// Consecutive windows overlap by chunkOverlap lines.
	assert.Contains(t, windows[0].content, "line 1\n")
	assert.Contains(t, windows[0].content, "line 50\n")
	assert.Contains(t, windows[1].content, "line 41\n")

	// Byte ranges index into the original text.
	text := b.String()
	for _, w := range windows {
		assert.Equal(t, w.content, text[w.byteStart:w.byteEnd])
	}
}

func TestSplitLineWindowsEmpty(t *testing.T) {
	assert.Nil(t, splitLineWindows(""))
	assert.Nil(t, splitLineWindows("   \n  \n"))
}

func TestIndexProjectAndReindex(t *testing.T) {
	st, engine, project := newTestDeps(t)
	workDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "notes.md"),
		[]byte("# Notes\n\nremember the build command\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "binary.bin"),
		[]byte{0, 1, 2}, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, ".forge"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, ".forge", "skip.md"),
		[]byte("should not be indexed"), 0o644))

	ix := NewIndexer(st, engine, project.ID, workDir)
	n, err := ix.IndexProject(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := st.ChunksByProject(project.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.NotContains(t, c.Path, ".forge")
		assert.NotEmpty(t, c.Embedding)
	}

	// Reindexing a changed file replaces its chunks instead of piling up.
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "main.go"),
		[]byte("package main\n\nfunc main() { println(1) }\n"), 0o644))
	_, err = ix.IndexFile(context.Background(), filepath.Join(workDir, "main.go"))
	require.NoError(t, err)

	chunks, err = st.ChunksByProject(project.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}
