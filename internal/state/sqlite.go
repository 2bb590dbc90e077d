package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per package. The revision column increases on
// every effective write.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and initializes) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, persistenceError("create state directory", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, persistenceError("open sqlite database", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, persistenceError("initialize schema", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS package_state (
		conf_name TEXT PRIMARY KEY,
		facts TEXT NOT NULL,
		revision INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Read returns the record for confName
func (s *SQLiteStore) Read(ctx context.Context, confName string) (Facts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	facts, _, err := s.read(ctx, s.db, confName)
	return facts, err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) read(ctx context.Context, q querier, confName string) (Facts, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		"SELECT facts FROM package_state WHERE conf_name = ?", confName,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Facts{}, false, nil
	}
	if err != nil {
		return nil, false, persistenceError("query state", err)
	}

	facts := Facts{}
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return nil, false, persistenceError(fmt.Sprintf("decode state of %s", confName), err)
	}
	return facts, true, nil
}

// Write merges facts into the record for confName
func (s *SQLiteStore) Write(ctx context.Context, confName string, facts Facts) error {
	if len(facts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, exists, err := s.read(ctx, tx, confName)
	if err != nil {
		return err
	}
	if exists && IsSubset(facts, current) {
		return nil
	}

	data, err := json.Marshal(Merge(current, facts))
	if err != nil {
		return persistenceError("encode state", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO package_state (conf_name, facts, revision, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(conf_name) DO UPDATE SET
			facts = excluded.facts,
			revision = package_state.revision + 1,
			updated_at = excluded.updated_at`,
		confName, string(data), time.Now().Unix(),
	)
	if err != nil {
		return persistenceError("write state", err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("commit state", err)
	}
	return nil
}

// Remove deletes the record for confName
func (s *SQLiteStore) Remove(ctx context.Context, confName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM package_state WHERE conf_name = ?", confName); err != nil {
		return persistenceError("delete state", err)
	}
	return nil
}

// List returns all package names
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT conf_name FROM package_state ORDER BY conf_name")
	if err != nil {
		return nil, persistenceError("list state", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, persistenceError("scan state", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate state", err)
	}
	return names, nil
}

// Revision returns how often the record of confName was effectively written.
// It is 0 for unknown packages.
func (s *SQLiteStore) Revision(ctx context.Context, confName string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rev int64
	err := s.db.QueryRowContext(ctx,
		"SELECT revision FROM package_state WHERE conf_name = ?", confName,
	).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistenceError("query revision", err)
	}
	return rev, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
