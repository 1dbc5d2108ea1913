package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// AppendExecutionLog records one tool call. The table is append-only.
// Invariant: success=true rows have a null error message.
func (s *LocalStore) AppendExecutionLog(e *types.ExecutionLogEntry) error {
	input, err := json.Marshal(e.Input)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var output, errMsg any
	if e.Output != "" {
		output = e.Output
	}
	if !e.Success && e.ErrorMsg != "" {
		errMsg = e.ErrorMsg
	}

	_, err = s.db.Exec(
		`INSERT INTO execution_log
		 (id, project_id, session_id, tool, input, output, error_message, duration_ms, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.SessionID, e.Tool, string(input), output, errMsg,
		e.Duration.Milliseconds(), boolToInt(e.Success), e.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to append execution log: %v", err)
	}
	return err
}

// ExecutionLogBySession returns a session's tool call records, oldest
// first.
func (s *LocalStore) ExecutionLogBySession(sessionID string) ([]*types.ExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project_id, session_id, tool, input, output, error_message, duration_ms, success, created_at
		 FROM execution_log WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.ExecutionLogEntry
	for rows.Next() {
		var e types.ExecutionLogEntry
		var input string
		var output, errMsg sql.NullString
		var durationMs int64
		var success int
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.Tool, &input,
			&output, &errMsg, &durationMs, &success, &createdAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(input), &e.Input); err != nil {
			continue
		}
		e.Output = output.String
		e.ErrorMsg = errMsg.String
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.Success = success != 0
		e.CreatedAt = createdAt
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
