package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore is a persistent Service backed by a SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string, ttl time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Service.
func (s *SQLiteStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		CacheMisses.WithLabelValues(layerSQLite).Inc()
		return false, nil
	}
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "get").Inc()
		return false, fmt.Errorf("sqlite get: %w", err)
	}

	if expiresAt > 0 && s.now().UnixMilli() >= expiresAt {
		if err := s.Remove(ctx, key); err != nil {
			return false, err
		}
		CacheMisses.WithLabelValues(layerSQLite).Inc()
		return false, nil
	}

	entry := Entry{Data: value}
	if err := entry.Decode(dest); err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "get").Inc()
		return false, err
	}

	CacheHits.WithLabelValues(layerSQLite).Inc()
	return true, nil
}

// Set implements Service.
func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	entry, err := newEntry(value, s.ttl, s.now())
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "set").Inc()
		return err
	}

	var expiresAt int64
	if !entry.Expires.IsZero() {
		expiresAt = entry.Expires.UnixMilli()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, []byte(entry.Data), expiresAt,
	)
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "set").Inc()
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Remove implements Service.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "remove").Inc()
		return fmt.Errorf("sqlite remove: %w", err)
	}
	return nil
}

// Purge deletes every expired row and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		CacheErrors.WithLabelValues(layerSQLite, "purge").Inc()
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}
