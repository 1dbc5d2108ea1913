package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := WriteFileTool(dir).Execute(ctx, map[string]any{
		"path":    "sub/hello.txt",
		"content": "Hello World",
	})
	require.NoError(t, err)

	out, err := ReadFileTool(dir).Execute(ctx, map[string]any{"path": "sub/hello.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Hello World", out)

	data, err := os.ReadFile(filepath.Join(dir, "sub", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(data))
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFileTool(t.TempDir()).Execute(context.Background(), map[string]any{"path": "nope.txt"})
	require.Error(t, err)
}

func TestEditRequiresUniqueMatch(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(dir, "f.go")
	require.NoError(t, os.WriteFile(path, []byte("foo bar foo"), 0o644))

	edit := EditTool(dir)

	_, err := edit.Execute(ctx, map[string]any{"path": "f.go", "old_string": "foo", "new_string": "baz"})
	require.Error(t, err, "ambiguous match must be rejected")

	_, err = edit.Execute(ctx, map[string]any{"path": "f.go", "old_string": "missing", "new_string": "x"})
	require.Error(t, err)

	_, err = edit.Execute(ctx, map[string]any{"path": "f.go", "old_string": "bar", "new_string": "qux"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foo qux foo", string(data))
}

func TestBashCapturesStderr(t *testing.T) {
	out, err := BashTool(t.TempDir()).Execute(context.Background(), map[string]any{
		"command": "echo out; echo err 1>&2",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "out")
	assert.Contains(t, out, "err")
}

func TestBashFailurePropagates(t *testing.T) {
	_, err := BashTool(t.TempDir()).Execute(context.Background(), map[string]any{"command": "exit 3"})
	require.Error(t, err)
}
