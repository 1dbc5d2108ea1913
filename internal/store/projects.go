package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"time"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// ProjectID computes the stable project id for an absolute root path:
// the 16-hex prefix of its SHA-256 hash.
func ProjectID(rootPath string) string {
	sum := sha256.Sum256([]byte(rootPath))
	return hex.EncodeToString(sum[:])[:16]
}

// EnsureProject creates the project row for a root path on first use
// and returns it. Projects are never destroyed.
func (s *LocalStore) EnsureProject(rootPath string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ProjectID(rootPath)
	name := filepath.Base(rootPath)

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO projects (id, root_path, name) VALUES (?, ?, ?)`,
		id, rootPath, name,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to ensure project %s: %v", rootPath, err)
		return nil, err
	}

	return s.getProjectLocked(id)
}

// GetProject returns a project by id, or nil if absent.
func (s *LocalStore) GetProject(id string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProjectLocked(id)
}

func (s *LocalStore) getProjectLocked(id string) (*types.Project, error) {
	var p types.Project
	var createdAt time.Time
	err := s.db.QueryRow(
		`SELECT id, root_path, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.RootPath, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = createdAt
	return &p, nil
}
