package store

import (
	"database/sql"
	"time"

	"codeforge/internal/embedding"
	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// UpsertChunk stores a retrievable fragment with its embedding.
func (s *LocalStore) UpsertChunk(c *types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	degraded := 0
	if c.Degraded {
		degraded = 1
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO chunks
		 (id, project_id, path, content, chunk_type, byte_start, byte_end, embedding, degraded, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Path, c.Content, string(c.ChunkType),
		c.ByteStart, c.ByteEnd, embedding.EncodeVector(c.Embedding), degraded, c.LastUsedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to upsert chunk %s: %v", c.ID, err)
	}
	return err
}

// ChunksByProject loads every chunk for a project. Embeddings are
// decoded; dimension consistency is the caller's invariant.
func (s *LocalStore) ChunksByProject(projectID string) ([]*types.Chunk, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ChunksByProject")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project_id, path, content, chunk_type, byte_start, byte_end, embedding, degraded, last_used_at
		 FROM chunks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			logging.StoreDebug("skipping unreadable chunk row: %v", err)
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows) (*types.Chunk, error) {
	var c types.Chunk
	var chunkType string
	var blob []byte
	var degraded int
	var lastUsed time.Time
	if err := rows.Scan(&c.ID, &c.ProjectID, &c.Path, &c.Content, &chunkType,
		&c.ByteStart, &c.ByteEnd, &blob, &degraded, &lastUsed); err != nil {
		return nil, err
	}
	vec, err := embedding.DecodeVector(blob)
	if err != nil {
		return nil, err
	}
	c.ChunkType = types.ChunkType(chunkType)
	c.Embedding = vec
	c.Degraded = degraded != 0
	c.LastUsedAt = lastUsed
	return &c, nil
}

// TouchChunks updates last_used_at for the given chunk ids.
func (s *LocalStore) TouchChunks(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.db.Prepare(`UPDATE chunks SET last_used_at = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(at, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteChunksByPath removes all chunks indexed for a file path.
// Used when the watcher reports a file changed or deleted.
func (s *LocalStore) DeleteChunksByPath(projectID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM chunks WHERE project_id = ? AND path = ?`, projectID, path)
	return err
}

// DegradedChunks returns chunks whose embeddings came from the hash
// fallback and should be recomputed.
func (s *LocalStore) DegradedChunks(projectID string, limit int) ([]*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, project_id, path, content, chunk_type, byte_start, byte_end, embedding, degraded, last_used_at
		 FROM chunks WHERE project_id = ? AND degraded = 1 LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
