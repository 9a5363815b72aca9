// Package sqlite provides a SQLite-backed durable key/value store.
package sqlite

import (
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var (
	_ storage.KV        = (*Store)(nil)
	_ storage.Inspector = (*Store)(nil)
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store persists key/value pairs in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) a SQLite store. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqlite.Open] storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlite.Open] open sqlite db")
	}
	// a single connection keeps ":memory:" databases shared
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] ping sqlite db")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] create kv table")
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return errors.Wrap(s.sqlDB.Close(), "[Store.Close]")
}

func (s *Store) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, storage.ErrKeyRequired
	}
	var value string
	err := s.sqlDB.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[Store.Get] %q", key)
	}
	return value, true, nil
}

func (s *Store) Set(key, value string) error {
	if key == "" {
		return storage.ErrKeyRequired
	}
	_, err := s.sqlDB.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return errors.Wrapf(err, "[Store.Set] %q", key)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if key == "" {
		return storage.ErrKeyRequired
	}
	if _, err := s.sqlDB.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "[Store.Delete] %q", key)
	}
	return nil
}

func (s *Store) Keys() ([]string, error) {
	rows, err := s.sqlDB.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Keys] list keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "[Store.Keys] scan key")
		}
		keys = append(keys, key)
	}
	return keys, errors.Wrap(rows.Err(), "[Store.Keys]")
}
