package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database backing the durable cache tiers and the
// other persisted client state (sync cursors, push subscription record).
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the durable store at path and prepares its
// schema. The session table is wiped on open: session-tier entries only
// live for one run of the application.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv_persistent (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv_session (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	DELETE FROM kv_session;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init durable store schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close releases the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Persistent returns the durable tier that survives restarts.
func (d *DB) Persistent() *KV {
	return &KV{db: d.db, table: "kv_persistent"}
}

// Session returns the durable tier that is wiped on every open.
func (d *DB) Session() *KV {
	return &KV{db: d.db, table: "kv_session"}
}

// KV is a SQLite-backed key/value store implementing DurableStore.
type KV struct {
	db    *sql.DB
	table string
}

// Get returns the value for key, with ok=false when the key is absent.
func (s *KV) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM "+s.table+" WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return value, true, nil
}

// Set inserts or replaces the value for key.
func (s *KV) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO "+s.table+" (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KV) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM "+s.table+" WHERE key = ?", key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Keys returns all keys starting with prefix.
func (s *KV) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT key FROM "+s.table+" WHERE key >= ? AND key < ? ORDER BY key",
		prefix, prefix+"\xff")
	if err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv keys scan: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

var _ DurableStore = (*KV)(nil)
