package sdk

import (
	"context"

	"github.com/celerix-dev/celerix-collections/internal/ctxutil"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// Errors returned by every implementation; match them with errors.Is.
var (
	ErrNotFound   = schema.ErrNotFound
	ErrLocked     = schema.ErrLocked
	ErrValidation = schema.ErrValidation
)

// --- Functional Interfaces (Interface Segregation) ---

// RecordReader reads records and derived views.
type RecordReader interface {
	Get(recordID int64) (schema.Record, error)
	List(q schema.Query) ([]schema.Record, error)
	History(externalID string) ([]schema.Record, error)
	Stats() (schema.Stats, error)
}

// RecordEditor changes editable records.
type RecordEditor interface {
	Update(ctx context.Context, recordID int64, patch schema.Patch) (schema.Record, error)
}

// RecordIngester imports rows keyed by column header.
type RecordIngester interface {
	Ingest(ctx context.Context, rows []map[string]any) (schema.IngestResult, error)
}

// --- Composite Interfaces ---

// Collections is the complete client API, served either by a remote daemon
// or by an embedded store.
type Collections interface {
	RecordReader
	RecordEditor
	RecordIngester
	Close() error
}

// WithActor attaches the identity recorded on writes made with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return ctxutil.WithActor(ctx, actor)
}
