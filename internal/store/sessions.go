package store

import (
	"database/sql"
	"time"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// CreateSession inserts a new session row.
func (s *LocalStore) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, project_id, mode, started_at, turn_count, tokens_used)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, string(sess.Mode), sess.StartedAt, sess.TurnCount, sess.TokensUsed,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to create session %s: %v", sess.ID, err)
	}
	return err
}

// GetSession returns a session by id, or nil if absent.
func (s *LocalStore) GetSession(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, project_id, mode, started_at, ended_at, turn_count, tokens_used
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// FindOpenSession returns the session with a null end time for the
// project, or nil. The schema invariant allows at most one.
func (s *LocalStore) FindOpenSession(projectID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, project_id, mode, started_at, ended_at, turn_count, tokens_used
		 FROM sessions WHERE project_id = ? AND ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, projectID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*types.Session, error) {
	var sess types.Session
	var mode string
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.ProjectID, &mode, &sess.StartedAt, &endedAt, &sess.TurnCount, &sess.TokensUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.Mode = types.Mode(mode)
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}

// EndSession sets the end time of a session.
func (s *LocalStore) EndSession(id string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, endedAt, id)
	return err
}

// UpdateSessionCounters persists cumulative turn and token counts.
func (s *LocalStore) UpdateSessionCounters(id string, turnCount, tokensUsed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE sessions SET turn_count = ?, tokens_used = ? WHERE id = ?`,
		turnCount, tokensUsed, id,
	)
	return err
}

// SaveSnapshot writes a session snapshot and prunes rows past the
// retention cap. Sequence numbers are strictly increasing per session.
func (s *LocalStore) SaveSnapshot(snap *types.SessionSnapshot, retain int) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSnapshot")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	retrievalIDs, err := encodeStrings(snap.RetrievalIDs)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO session_snapshots (session_id, seq, ephemeral_state, retrieval_ids, mode, token_budget)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.Seq, snap.Ephemeral, retrievalIDs, string(snap.Mode), snap.TokenBudget,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to save snapshot session=%s seq=%d: %v", snap.SessionID, snap.Seq, err)
		return err
	}

	if retain > 0 {
		_, err = s.db.Exec(
			`DELETE FROM session_snapshots
			 WHERE session_id = ?
			   AND seq NOT IN (
			     SELECT seq FROM session_snapshots WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			   )`,
			snap.SessionID, snap.SessionID, retain,
		)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("snapshot retention prune failed: %v", err)
		}
	}

	logging.StoreDebug("snapshot saved: session=%s seq=%d", snap.SessionID, snap.Seq)
	return nil
}

// LoadLatestSnapshot returns the highest-seq snapshot for a session,
// or nil if none exists.
func (s *LocalStore) LoadLatestSnapshot(sessionID string) (*types.SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap types.SessionSnapshot
	var mode string
	var retrievalIDs []byte
	var createdAt time.Time
	err := s.db.QueryRow(
		`SELECT session_id, seq, ephemeral_state, retrieval_ids, mode, token_budget, created_at
		 FROM session_snapshots WHERE session_id = ?
		 ORDER BY seq DESC LIMIT 1`, sessionID,
	).Scan(&snap.SessionID, &snap.Seq, &snap.Ephemeral, &retrievalIDs, &mode, &snap.TokenBudget, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Mode = types.Mode(mode)
	snap.CreatedAt = createdAt
	snap.RetrievalIDs, err = decodeStrings(retrievalIDs)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SnapshotCount returns the number of snapshots held for a session.
func (s *LocalStore) SnapshotCount(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM session_snapshots WHERE session_id = ?`, sessionID,
	).Scan(&count)
	return count, err
}
