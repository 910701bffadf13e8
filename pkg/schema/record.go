// Package schema defines the data structures shared by the collections engine,
// its transports and the SDK.
package schema

import (
	"strings"
	"time"
)

// Record is one contact entry tracked by the ledger.
//
// RecordID, ExternalID and Locked are fixed at ingestion. Once Locked is true
// no field of the record changes again.
type Record struct {
	RecordID       int64     `json:"record_id"`
	ExternalID     string    `json:"id"`
	Name           *string   `json:"name"`
	Contact        *string   `json:"contact"`
	Email          *string   `json:"email"`
	CollectionDate *Date     `json:"date"`
	Locked         bool      `json:"read_only"`
	LastUpdatedBy  string    `json:"last_updated_by,omitempty"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
	Version        uint64    `json:"version"`
}

// Clone returns a deep copy so callers can never reach the store's values.
func (r Record) Clone() Record {
	out := r
	out.Name = cloneString(r.Name)
	out.Contact = cloneString(r.Contact)
	out.Email = cloneString(r.Email)
	if r.CollectionDate != nil {
		d := *r.CollectionDate
		out.CollectionDate = &d
	}
	return out
}

// Patch is the client-facing shape of an edit. Only these four keys are
// accepted; JSON null or an absent key leaves the field untouched and an
// empty string clears it.
type Patch struct {
	Name    *string `json:"Name,omitempty"`
	Email   *string `json:"Email,omitempty"`
	Contact *string `json:"Contact,omitempty"`
	Date    *string `json:"Date,omitempty"`
}

// IsEmpty reports whether the patch names no field at all.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Contact == nil && p.Date == nil
}

// Changes is a validated Patch ready to be applied by a store.
// A pointer to "" (or to a zero Date) clears the field.
type Changes struct {
	Name    *string
	Email   *string
	Contact *string
	Date    *Date
}

// Apply writes the changes onto rec and returns the result.
func (c Changes) Apply(rec Record) Record {
	if c.Name != nil {
		rec.Name = Text(*c.Name)
	}
	if c.Email != nil {
		rec.Email = Text(*c.Email)
	}
	if c.Contact != nil {
		rec.Contact = Text(*c.Contact)
	}
	if c.Date != nil {
		if c.Date.IsZero() {
			rec.CollectionDate = nil
		} else {
			d := *c.Date
			rec.CollectionDate = &d
		}
	}
	return rec
}

// Stats summarises the store contents.
type Stats struct {
	Total    int `json:"total"`
	Locked   int `json:"read_only"`
	Editable int `json:"editable"`
}

// IngestResult is the manifest returned for one ingestion batch.
type IngestResult struct {
	BatchID          string   `json:"batch_id"`
	Message          string   `json:"message"`
	RecordsProcessed int      `json:"records_processed"`
	RecordsAdded     int      `json:"records_added"`
	Errors           []string `json:"errors"`
}

// Text trims s and returns nil when nothing is left.
func Text(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
