// Package store provides typed CRUD over the single embedded SQLite
// database at <project-root>/.forge/store.db. All writes are serialized
// through a mutex to avoid SQLITE_BUSY; readers may be concurrent.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"codeforge/internal/logging"
	"codeforge/internal/types"
)

// LocalStore owns the durable copy of every entity. In-memory
// components hold ids and look entities up here.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path, creating the
// schema and running migrations as needed.
func Open(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.NewAgentError(types.KindStorageUnavailable, "store", "failed to create state directory", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.NewAgentError(types.KindStorageUnavailable, "store", "failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable foreign keys: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, types.NewAgentError(types.KindStorageUnavailable, "store", "failed to initialize schema", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, types.NewAgentError(types.KindStorageUnavailable, "store", "failed to run migrations", err)
	}

	logging.Store("Store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			root_path TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			mode TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			turn_count INTEGER DEFAULT 0,
			tokens_used INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(project_id) WHERE ended_at IS NULL;`,

		`CREATE TABLE IF NOT EXISTS session_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			seq INTEGER NOT NULL,
			ephemeral_state BLOB,
			retrieval_ids BLOB,
			mode TEXT NOT NULL,
			token_budget BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_session ON session_snapshots(session_id);`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			byte_start INTEGER NOT NULL,
			byte_end INTEGER NOT NULL,
			embedding BLOB,
			degraded INTEGER DEFAULT 0,
			last_used_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);`,

		`CREATE TABLE IF NOT EXISTS knowledge (
			project_id TEXT NOT NULL REFERENCES projects(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			category TEXT DEFAULT '',
			importance REAL DEFAULT 0,
			UNIQUE(project_id, key)
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_project ON knowledge(project_id);`,

		`CREATE TABLE IF NOT EXISTS git_commits (
			project_id TEXT NOT NULL REFERENCES projects(id),
			hash TEXT NOT NULL,
			author TEXT,
			date DATETIME,
			message TEXT,
			files_changed TEXT,
			diff_chunks TEXT,
			embedding BLOB,
			UNIQUE(project_id, hash)
		);
		CREATE INDEX IF NOT EXISTS idx_git_commits_project ON git_commits(project_id);`,

		`CREATE TABLE IF NOT EXISTS execution_log (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id),
			session_id TEXT NOT NULL REFERENCES sessions(id),
			tool TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			error_message TEXT,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_execution_log_session ON execution_log(session_id);
		CREATE INDEX IF NOT EXISTS idx_execution_log_tool ON execution_log(tool);`,

		`CREATE TABLE IF NOT EXISTS cache (
			cache_key TEXT PRIMARY KEY,
			category TEXT DEFAULT '',
			value BLOB,
			expires_at DATETIME
		);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	logging.Store("Closing store")
	return s.db.Close()
}

// DB returns the underlying connection, for tests.
func (s *LocalStore) DB() *sql.DB { return s.db }

// Stats returns per-table row counts.
func (s *LocalStore) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{"projects", "sessions", "session_snapshots", "chunks", "knowledge", "git_commits", "execution_log", "cache"}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("count failed for %s: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
