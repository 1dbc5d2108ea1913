package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Session lifecycle
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditTurnStart    AuditEventType = "turn_start"
	AuditTurnEnd      AuditEventType = "turn_end"

	// Tool execution
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	// Approval decisions
	AuditApprovalGranted AuditEventType = "approval_granted"
	AuditApprovalDenied  AuditEventType = "approval_denied"

	// LLM API
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"
)

// AuditEvent is one append-only audit record.
type AuditEvent struct {
	Timestamp int64          `json:"ts"`
	Type      AuditEventType `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
	auditDay  string
)

// Audit appends an event to the daily audit log. Failures are swallowed:
// auditing must never affect the operation being audited.
func Audit(eventType AuditEventType, sessionID string, detail map[string]any) {
	if logsDir == "" {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	day := time.Now().Format("2006-01-02")
	if auditFile == nil || auditDay != day {
		if auditFile != nil {
			_ = auditFile.Close()
		}
		path := filepath.Join(logsDir, day+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		auditFile = f
		auditDay = day
	}

	event := AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		Type:      eventType,
		SessionID: sessionID,
		Detail:    detail,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(auditFile, "%s\n", data)
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
}
