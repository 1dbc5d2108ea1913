package store

import (
	"encoding/json"
	"regexp"
	"time"

	"codeforge/internal/embedding"
	"codeforge/internal/logging"
	"codeforge/internal/types"
)

var commitHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// StoreGitCommit caches one parsed commit. (project, hash) is unique;
// re-storing replaces the cached parse.
func (s *LocalStore) StoreGitCommit(c *types.GitCommitRecord) error {
	if !commitHashRe.MatchString(c.Hash) {
		return types.NewAgentError(types.KindGitUnavailable, "store", "invalid commit hash: "+c.Hash, nil)
	}

	files, err := json.Marshal(c.FilesChanged)
	if err != nil {
		return err
	}
	diffs, err := json.Marshal(c.DiffChunks)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO git_commits
		 (project_id, hash, author, date, message, files_changed, diff_chunks, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.Hash, c.Author, c.Date, c.Message, string(files), string(diffs),
		embedding.EncodeVector(c.Embedding),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to store git commit %s: %v", c.Hash, err)
	}
	return err
}

// GitCommitsByProject loads all cached commits for a project, newest
// first.
func (s *LocalStore) GitCommitsByProject(projectID string) ([]*types.GitCommitRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GitCommitsByProject")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT project_id, hash, author, date, message, files_changed, diff_chunks, embedding
		 FROM git_commits WHERE project_id = ? ORDER BY date DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []*types.GitCommitRecord
	for rows.Next() {
		var c types.GitCommitRecord
		var date time.Time
		var files, diffs string
		var blob []byte
		if err := rows.Scan(&c.ProjectID, &c.Hash, &c.Author, &date, &c.Message, &files, &diffs, &blob); err != nil {
			continue
		}
		c.Date = date
		if err := json.Unmarshal([]byte(files), &c.FilesChanged); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(diffs), &c.DiffChunks); err != nil {
			continue
		}
		vec, err := embedding.DecodeVector(blob)
		if err != nil {
			continue
		}
		c.Embedding = vec
		commits = append(commits, &c)
	}
	return commits, rows.Err()
}

// GitCommitCount returns the number of cached commits for a project.
func (s *LocalStore) GitCommitCount(projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM git_commits WHERE project_id = ?`, projectID).Scan(&count)
	return count, err
}
