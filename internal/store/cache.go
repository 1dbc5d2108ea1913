package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// Cache keys are hashed so arbitrary-length keys (prompts, file paths)
// stay within index-friendly bounds.
func cacheKeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CachePut stores a value under a hashed key with an optional TTL.
func (s *LocalStore) CachePut(key, category string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires any
	if ttl != 0 {
		expires = time.Now().Add(ttl)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache (cache_key, category, value, expires_at) VALUES (?, ?, ?, ?)`,
		cacheKeyHash(key), category, value, expires,
	)
	return err
}

// CacheGet returns the cached value, or nil if absent or expired.
// Expired rows are deleted on read.
func (s *LocalStore) CacheGet(key string) ([]byte, error) {
	hashed := cacheKeyHash(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	var value []byte
	var expires sql.NullTime
	err := s.db.QueryRow(
		`SELECT value, expires_at FROM cache WHERE cache_key = ?`, hashed,
	).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires.Valid && time.Now().After(expires.Time) {
		_, _ = s.db.Exec(`DELETE FROM cache WHERE cache_key = ?`, hashed)
		return nil, nil
	}
	return value, nil
}
