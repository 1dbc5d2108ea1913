package store

import (
	"database/sql"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// StoreKnowledge creates or updates a knowledge entry. Repeating the
// call with the same key updates the value and does not duplicate.
func (s *LocalStore) StoreKnowledge(e *types.KnowledgeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("storing knowledge: project=%s key=%s", e.ProjectID, e.Key)

	_, err := s.db.Exec(
		`INSERT INTO knowledge (project_id, key, value, category, importance)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, key) DO UPDATE SET
		   value = excluded.value,
		   category = excluded.category,
		   importance = excluded.importance`,
		e.ProjectID, e.Key, e.Value, e.Category, e.Importance,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to store knowledge %s/%s: %v", e.ProjectID, e.Key, err)
	}
	return err
}

// GetKnowledge returns one entry by key, or nil if absent.
func (s *LocalStore) GetKnowledge(projectID, key string) (*types.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e types.KnowledgeEntry
	err := s.db.QueryRow(
		`SELECT project_id, key, value, category, importance
		 FROM knowledge WHERE project_id = ? AND key = ?`,
		projectID, key,
	).Scan(&e.ProjectID, &e.Key, &e.Value, &e.Category, &e.Importance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// TopKnowledge returns the highest-importance entries for a project.
func (s *LocalStore) TopKnowledge(projectID string, limit int) ([]*types.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT project_id, key, value, category, importance
		 FROM knowledge WHERE project_id = ?
		 ORDER BY importance DESC, key ASC LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*types.KnowledgeEntry
	for rows.Next() {
		var e types.KnowledgeEntry
		if err := rows.Scan(&e.ProjectID, &e.Key, &e.Value, &e.Category, &e.Importance); err != nil {
			continue
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteKnowledge removes one entry. Missing keys are not an error.
func (s *LocalStore) DeleteKnowledge(projectID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM knowledge WHERE project_id = ? AND key = ?`, projectID, key)
	return err
}
