package engine

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// MemStore is the thread-safe record store.
//
// A single RWMutex guards the map: reads share the lock, Append and
// ApplyUpdate hold it exclusively for the check-then-write, so two updates
// to the same record can never interleave.
type MemStore struct {
	mu        sync.RWMutex
	records   map[int64]schema.Record
	nextID    int64
	persister Persister
	wg        sync.WaitGroup
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a MemStore.
type Option func(*MemStore)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *MemStore) { m.now = now }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *MemStore) { m.logger = l }
}

// NewMemStore initializes a store.
// It accepts existing records (from a Persister's LoadAll) and resumes
// record_id minting after the highest one seen. p may be nil.
func NewMemStore(initial []schema.Record, p Persister, opts ...Option) *MemStore {
	m := &MemStore{
		records:   make(map[int64]schema.Record, len(initial)),
		nextID:    1,
		persister: p,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, rec := range initial {
		m.records[rec.RecordID] = rec.Clone()
		if rec.RecordID >= m.nextID {
			m.nextID = rec.RecordID + 1
		}
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Append stores rec under a freshly minted record_id.
func (m *MemStore) Append(rec schema.Record) (schema.Record, error) {
	rec.ExternalID = strings.TrimSpace(rec.ExternalID)
	if rec.ExternalID == "" {
		return schema.Record{}, fmt.Errorf("append: %w: missing ID", ErrValidation)
	}

	m.mu.Lock()
	rec.RecordID = m.nextID
	m.nextID++
	rec.Version = 1
	if rec.LastUpdatedAt.IsZero() {
		rec.LastUpdatedAt = m.now().UTC()
	}
	rec = rec.Clone()
	m.records[rec.RecordID] = rec
	m.mu.Unlock()

	m.persist(rec)
	return rec.Clone(), nil
}

// Get returns a copy of one record.
func (m *MemStore) Get(recordID int64) (schema.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordID]
	if !ok {
		return schema.Record{}, fmt.Errorf("record %d: %w", recordID, ErrNotFound)
	}
	return rec.Clone(), nil
}

// List returns a snapshot copy of every record.
func (m *MemStore) List() []schema.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]schema.Record, 0, len(m.records))
	for _, rec := range m.records {
		list = append(list, rec.Clone())
	}
	return list
}

// History returns every record imported under externalID, most recently
// updated first.
func (m *MemStore) History(externalID string) ([]schema.Record, error) {
	externalID = strings.TrimSpace(externalID)

	m.mu.RLock()
	var list []schema.Record
	for _, rec := range m.records {
		if rec.ExternalID == externalID {
			list = append(list, rec.Clone())
		}
	}
	m.mu.RUnlock()

	if len(list) == 0 {
		return nil, fmt.Errorf("id %q: %w", externalID, ErrNotFound)
	}
	slices.SortFunc(list, func(a, b schema.Record) int {
		if c := b.LastUpdatedAt.Compare(a.LastUpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.RecordID, a.RecordID)
	})
	return list, nil
}

// Stats counts records by lock state.
func (m *MemStore) Stats() schema.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := schema.Stats{Total: len(m.records)}
	for _, rec := range m.records {
		if rec.Locked {
			st.Locked++
		}
	}
	st.Editable = st.Total - st.Locked
	return st
}

// ApplyUpdate applies changes to an editable record. A locked record is
// left exactly as it was and ErrLocked is returned.
func (m *MemStore) ApplyUpdate(recordID int64, changes schema.Changes, actor string) (schema.Record, error) {
	m.mu.Lock()
	rec, ok := m.records[recordID]
	if !ok {
		m.mu.Unlock()
		return schema.Record{}, fmt.Errorf("record %d: %w", recordID, ErrNotFound)
	}
	if rec.Locked {
		m.mu.Unlock()
		return schema.Record{}, fmt.Errorf("record %d: %w", recordID, ErrLocked)
	}

	updated := changes.Apply(rec.Clone())
	ts := m.now().UTC()
	if ts.Before(rec.LastUpdatedAt) {
		ts = rec.LastUpdatedAt
	}
	updated.LastUpdatedAt = ts
	updated.LastUpdatedBy = actor
	updated.Version = rec.Version + 1
	m.records[recordID] = updated
	m.mu.Unlock()

	m.persist(updated)
	return updated.Clone(), nil
}

// persist saves rec in the background. Stale versions are dropped by the
// Persister, so out-of-order completion is harmless.
func (m *MemStore) persist(rec schema.Record) {
	if m.persister == nil {
		return
	}
	m.wg.Add(1)
	go func(r schema.Record) {
		defer m.wg.Done()
		if err := m.persister.SaveRecord(r); err != nil {
			m.logger.Error("persist record failed",
				"record_id", r.RecordID, "version", r.Version, "error", err)
		}
	}(rec.Clone())
}
