// Package sqlite persists records to a single SQLite table as JSON payloads.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/celerix-dev/celerix-collections/pkg/schema"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "collections.db"

// Store is an engine.Persister backed by SQLite.
// Writes are serialised; an upsert never replaces a newer version.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps writers from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		record_id INTEGER PRIMARY KEY,
		version INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// SaveRecord upserts rec unless a newer version is already stored.
func (s *Store) SaveRecord(rec schema.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.RecordID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO records(record_id, version, payload) VALUES(?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET version = excluded.version, payload = excluded.payload
		WHERE excluded.version >= records.version`,
		rec.RecordID, int64(rec.Version), payload); err != nil {
		return fmt.Errorf("upsert record %d: %w", rec.RecordID, err)
	}
	return nil
}

// LoadAll returns every stored record ordered by record_id.
func (s *Store) LoadAll() ([]schema.Record, error) {
	rows, err := s.db.Query(`SELECT payload FROM records ORDER BY record_id`)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []schema.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var rec schema.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
