package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clouddisk/cloudsync/internal/db"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TEXT NOT NULL -- RFC3339
);
`

// SqliteStore persists keys in a single sqlite table
type SqliteStore struct {
	dbPath string

	mu sync.RWMutex
	db *sqlx.DB
}

func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func (s *SqliteStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return fmt.Errorf("kv store already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return fmt.Errorf("init kv schema: %w", err)
	}

	s.db = conn
	slog.Debug("kv store open", "path", s.dbPath)
	return nil
}

func (s *SqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrNotOpen
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SqliteStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotOpen
	}

	var value []byte
	if err := s.db.Get(&value, "SELECT value FROM kv_store WHERE key = ?", key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *SqliteStore) Set(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return ErrNotOpen
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.NamedExec(`
		INSERT INTO kv_store (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		map[string]any{
			"key":        key,
			"value":      value,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

var _ Store = (*SqliteStore)(nil)
