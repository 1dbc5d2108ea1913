package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeforge/internal/config"
	"codeforge/internal/tools"
	"codeforge/internal/types"
)

// scriptedPrompter replays decisions in order and records prompts.
type scriptedPrompter struct {
	decisions []Decision
	prompts   []Request
}

func (p *scriptedPrompter) Prompt(ctx context.Context, req Request) (Decision, error) {
	p.prompts = append(p.prompts, req)
	d := p.decisions[0]
	if len(p.decisions) > 1 {
		p.decisions = p.decisions[1:]
	}
	return d, nil
}

func newGate(mode string, prompter Prompter) *Gate {
	cfg := config.DefaultApprovalConfig()
	cfg.Mode = mode
	return NewGate(cfg, NewClassifier(nil, nil), prompter, "sess-1")
}

func TestClassifyDefaultsAndOverrides(t *testing.T) {
	c := NewClassifier(nil, map[string]string{"bash": "low", "grep": "bogus"})

	assert.Equal(t, tools.SensitivityLow, c.Classify("bash"), "override wins")
	assert.Equal(t, tools.SensitivityLow, c.Classify("grep"), "invalid override ignored")
	assert.Equal(t, tools.SensitivityHigh, c.Classify("write_file"))
	assert.Equal(t, tools.SensitivityMedium, c.Classify("edit"))
	assert.Equal(t, tools.SensitivityHigh, c.Classify("mystery_tool"), "unknown tools default high")
}

func TestModeMatrix(t *testing.T) {
	cases := []struct {
		mode   string
		tool   string
		prompt bool
	}{
		{config.ApprovalModeDefault, "ls", false},
		{config.ApprovalModeDefault, "edit", true},
		{config.ApprovalModeDefault, "bash", true},
		{config.ApprovalModeAutoEdit, "ls", false},
		{config.ApprovalModeAutoEdit, "edit", false},
		{config.ApprovalModeAutoEdit, "bash", true},
		{config.ApprovalModeYolo, "ls", false},
		{config.ApprovalModeYolo, "edit", false},
		{config.ApprovalModeYolo, "bash", false},
	}

	for _, tc := range cases {
		prompter := &scriptedPrompter{decisions: []Decision{ApproveOnce}}
		g := newGate(tc.mode, prompter)

		err := g.Check(context.Background(), tc.tool, map[string]any{})
		require.NoError(t, err, "%s/%s", tc.mode, tc.tool)
		if tc.prompt {
			assert.Len(t, prompter.prompts, 1, "%s/%s should prompt", tc.mode, tc.tool)
		} else {
			assert.Empty(t, prompter.prompts, "%s/%s should not prompt", tc.mode, tc.tool)
		}
	}
}

func TestDenyFailsInvocation(t *testing.T) {
	g := newGate(config.ApprovalModeDefault, &scriptedPrompter{decisions: []Decision{DenyOnce}})

	err := g.Check(context.Background(), "bash", map[string]any{"command": "rm -rf /tmp/x"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindApprovalDenied))
}

func TestApproveRememberSkipsNextPrompt(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{ApproveRemember}}
	g := newGate(config.ApprovalModeDefault, prompter)

	require.NoError(t, g.Check(context.Background(), "bash", nil))
	require.NoError(t, g.Check(context.Background(), "bash", nil))
	assert.Len(t, prompter.prompts, 1, "remembered approval must not re-prompt")
}

func TestDenyRememberSticksForSession(t *testing.T) {
	prompter := &scriptedPrompter{decisions: []Decision{DenyRemember}}
	g := newGate(config.ApprovalModeDefault, prompter)

	err := g.Check(context.Background(), "bash", nil)
	assert.True(t, types.IsKind(err, types.KindApprovalDenied))

	err = g.Check(context.Background(), "bash", nil)
	assert.True(t, types.IsKind(err, types.KindApprovalDenied))
	assert.Len(t, prompter.prompts, 1)
}

func TestAutoDenyPrompter(t *testing.T) {
	g := newGate(config.ApprovalModeDefault, AutoDeny{})
	err := g.Check(context.Background(), "write_file", map[string]any{"path": "a.txt"})
	assert.True(t, types.IsKind(err, types.KindApprovalDenied))
}

func TestPolicyPathSafety(t *testing.T) {
	g := newGate(config.ApprovalModeYolo, AutoDeny{})

	for _, path := range []string{
		"../outside.txt",
		"~/.bashrc",
		"/etc/passwd",
		"config/.env",
		".env.local",
		"deploy/secret.yaml",
		"auth/password.txt",
		"home/user/.ssh/id_rsa",
		"certs/tls.pem",
		"certs/server.key",
	} {
		err := g.Check(context.Background(), "read_file", map[string]any{"path": path})
		require.Error(t, err, "path %q must be blocked", path)
		assert.True(t, types.IsKind(err, types.KindSecurityViolation), "path %q", path)
	}

	require.NoError(t, g.Check(context.Background(), "read_file", map[string]any{"path": "src/main.go"}))
}

func TestPolicyAllowsBenignNamedFiles(t *testing.T) {
	g := newGate(config.ApprovalModeYolo, AutoDeny{})

	// Only the file name itself may trip the secret heuristic, never a
	// substring of an ordinary source path.
	for _, path := range []string{
		"internal/context/tokens.go",
		"internal/ui/keymap.go",
		"crypto/public_key.go",
		"env/setup.sh",
		"notes/api_tokens.md",
	} {
		assert.NoError(t, g.Check(context.Background(), "read_file", map[string]any{"path": path}),
			"path %q must be allowed", path)
	}
}

func TestPolicyReadOnly(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	cfg.Mode = config.ApprovalModeYolo
	cfg.ReadOnly = true
	g := NewGate(cfg, NewClassifier(nil, nil), AutoDeny{}, "sess-1")

	err := g.Check(context.Background(), "write_file", map[string]any{"path": "a.txt"})
	assert.True(t, types.IsKind(err, types.KindSecurityViolation))

	assert.NoError(t, g.Check(context.Background(), "read_file", map[string]any{"path": "a.txt"}))
}

func TestPolicyDenyList(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	cfg.Mode = config.ApprovalModeYolo
	cfg.DeniedTools = []string{"bash"}
	g := NewGate(cfg, NewClassifier(nil, nil), AutoDeny{}, "sess-1")

	err := g.Check(context.Background(), "bash", map[string]any{"command": "ls"})
	assert.True(t, types.IsKind(err, types.KindSecurityViolation))
}

func TestPolicyNetworkFlag(t *testing.T) {
	cfg := config.DefaultApprovalConfig()
	cfg.Mode = config.ApprovalModeYolo
	cfg.AllowNetwork = false
	g := NewGate(cfg, NewClassifier(nil, nil), AutoDeny{}, "sess-1")

	err := g.Check(context.Background(), "web", map[string]any{"url": "https://example.com"})
	assert.True(t, types.IsKind(err, types.KindSecurityViolation))
}
