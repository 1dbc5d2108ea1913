package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/types"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "echo back the message",
		Category:    CategoryShell,
		Sensitivity: SensitivityLow,
		Schema: Schema{
			Required: []string{"message"},
			Properties: map[string]Property{
				"message": {Type: "string", Description: "text to echo"},
				"repeat":  {Type: "integer", Description: "repeat count"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return args["message"].(string), nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	assert.True(t, r.Has("echo"))
	assert.NotNil(t, r.Get("echo"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegisterToolWithoutRequiredParams(t *testing.T) {
	r := NewRegistry()
	tool := &Tool{
		Name:        "list_dir",
		Description: "list directory entries",
		Category:    CategoryFile,
		Sensitivity: SensitivityLow,
		Schema: Schema{
			Properties: map[string]Property{
				"path": {Type: "string", Description: "directory to list"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
	}
	require.NoError(t, r.Register(tool), "nil Required must compile as an empty array, not null")

	result, err := r.Execute(context.Background(), "list_dir", map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.Success)

	result, err = r.Execute(context.Background(), "list_dir", map[string]any{"path": "."})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	err := r.Register(echoTool())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolAlreadyRegistered))
}

func TestRegisterInvalidTool(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Tool{Name: "", Execute: func(context.Context, map[string]any) (string, error) { return "", nil }})
	assert.True(t, errors.Is(err, ErrToolNameEmpty))

	err = r.Register(&Tool{Name: "noexec"})
	assert.True(t, errors.Is(err, ErrToolExecuteNil))
}

func TestExecuteValidatesSchema(t *testing.T) {
	r := NewRegistry()
	invoked := false
	tool := echoTool()
	tool.Execute = func(ctx context.Context, args map[string]any) (string, error) {
		invoked = true
		return "", nil
	}
	require.NoError(t, r.Register(tool))

	// Missing required argument.
	result, err := r.Execute(context.Background(), "echo", map[string]any{})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindToolSchema))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "schema:")
	assert.False(t, invoked, "tool must not run on schema failure")

	// Wrong argument type.
	_, err = r.Execute(context.Background(), "echo", map[string]any{"message": 42})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindToolSchema))
	assert.False(t, invoked)
}

func TestExecuteSuccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool()))

	result, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi", "repeat": float64(2)})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)
	assert.Empty(t, result.Error)
}

func TestExecuteToolFailureWrapped(t *testing.T) {
	r := NewRegistry()
	tool := echoTool()
	tool.Execute = func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("disk full")
	}
	require.NoError(t, r.Register(tool))

	result, err := r.Execute(context.Background(), "echo", map[string]any{"message": "x"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindToolFailure))
	assert.False(t, result.Success)
	assert.Equal(t, "disk full", result.Error)
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}
