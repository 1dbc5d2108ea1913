package approval

import (
	"fmt"
	"path/filepath"
	"strings"

	"codeforge/internal/config"
	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// systemPathPrefixes are never writable through tools.
var systemPathPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/", "/dev/", "/proc/", "/sys/",
}

// secretMarkers flag file names that likely hold credentials. Matching
// is restricted to the basename so ordinary source files such as
// tokens.go or keymap.go are not swept up.
var secretMarkers = []string{"secret", "password", "credential"}

// secretExtensions are key-material file extensions.
var secretExtensions = map[string]bool{".pem": true, ".key": true}

// Policy is the stricter permission layer for constrained agents:
// allow/deny lists, read-only and network flags, and file-path safety.
type Policy struct {
	allowed      map[string]bool
	denied       map[string]bool
	readOnly     bool
	allowNetwork bool
}

// NewPolicy builds a policy from configuration. An empty allow list
// permits every tool not explicitly denied.
func NewPolicy(cfg config.ApprovalConfig) *Policy {
	p := &Policy{
		allowed:      make(map[string]bool),
		denied:       make(map[string]bool),
		readOnly:     cfg.ReadOnly,
		allowNetwork: cfg.AllowNetwork,
	}
	for _, t := range cfg.AllowedTools {
		p.allowed[t] = true
	}
	for _, t := range cfg.DeniedTools {
		p.denied[t] = true
	}
	return p
}

// writeTools mutate the filesystem or run arbitrary code.
var writeTools = map[string]bool{"bash": true, "write_file": true, "edit": true, "git": true}

// Check enforces the policy for one invocation. A violation is
// recorded in the audit log and returned as a SecurityViolation.
func (p *Policy) Check(sessionID, toolName string, args map[string]any) error {
	if p.denied[toolName] {
		return p.violation(sessionID, toolName, "high", "tool is on the deny list")
	}
	if len(p.allowed) > 0 && !p.allowed[toolName] {
		return p.violation(sessionID, toolName, "medium", "tool is not on the allow list")
	}
	if p.readOnly && writeTools[toolName] {
		return p.violation(sessionID, toolName, "high", "write operation in read-only mode")
	}
	if !p.allowNetwork && toolName == "web" {
		return p.violation(sessionID, toolName, "medium", "network access disabled")
	}

	for _, field := range []string{"path", "url"} {
		if v, ok := args[field].(string); ok && v != "" {
			if reason := unsafePath(v); reason != "" {
				return p.violation(sessionID, toolName, "high", fmt.Sprintf("%s %q: %s", field, v, reason))
			}
		}
	}
	return nil
}

func (p *Policy) violation(sessionID, toolName, severity, reason string) error {
	logging.Approval("security violation (severity=%s): tool=%s %s", severity, toolName, reason)
	logging.Audit(logging.AuditApprovalDenied, sessionID, map[string]any{
		"tool":     toolName,
		"severity": severity,
		"reason":   reason,
	})
	return types.NewAgentError(types.KindSecurityViolation, "approval",
		fmt.Sprintf("%s: %s", toolName, reason), nil)
}

// unsafePath returns a non-empty reason when the path must be blocked.
func unsafePath(path string) string {
	if strings.Contains(path, "..") {
		return "parent traversal"
	}
	if strings.HasPrefix(path, "~") {
		return "home expansion"
	}
	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return "system path"
		}
	}
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return "secret-bearing name"
	}
	if base == "id_rsa" || strings.HasPrefix(base, "id_rsa.") ||
		base == "id_ed25519" || strings.HasPrefix(base, "id_ed25519.") {
		return "secret-bearing name"
	}
	if secretExtensions[filepath.Ext(base)] {
		return "secret-bearing name"
	}
	for _, marker := range secretMarkers {
		if strings.Contains(base, marker) {
			return "secret-bearing name"
		}
	}
	return ""
}
