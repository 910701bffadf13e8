// Package engine is the record store: the single shared mutable resource of
// the ledger, with optional background persistence.
package engine

import "github.com/celerix-dev/celerix-collections/pkg/schema"

// Standard errors for the engine, aliased from schema so that remote and
// embedded callers match the same values with errors.Is.
var (
	ErrNotFound   = schema.ErrNotFound
	ErrLocked     = schema.ErrLocked
	ErrValidation = schema.ErrValidation
)

// --- Functional Interfaces ---

// Reader is the read side of the store. Readers never block each other.
type Reader interface {
	Get(recordID int64) (schema.Record, error)
	// List returns every record. Ordering is not part of the contract.
	List() []schema.Record
	// History returns all records sharing an external id, newest first.
	History(externalID string) ([]schema.Record, error)
	Stats() schema.Stats
}

// Appender mints a record_id and stores a new record.
type Appender interface {
	Append(rec schema.Record) (schema.Record, error)
}

// Updater applies a guarded read-check-write to one record.
type Updater interface {
	ApplyUpdate(recordID int64, changes schema.Changes, actor string) (schema.Record, error)
}

// RecordStore combines all store capabilities.
type RecordStore interface {
	Reader
	Appender
	Updater
}

// Persister saves and restores records. SaveRecord may be called from
// several goroutines and must ignore a version older than one already saved.
type Persister interface {
	SaveRecord(rec schema.Record) error
	LoadAll() ([]schema.Record, error)
}
