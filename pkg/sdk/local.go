package sdk

import (
	"context"
	"log/slog"

	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/ingest"
	"github.com/celerix-dev/celerix-collections/internal/mutation"
	"github.com/celerix-dev/celerix-collections/internal/query"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// Local runs the ledger inside the calling process.
// It implements the Collections interface.
type Local struct {
	store    *engine.MemStore
	pipeline *ingest.Pipeline
	gateway  *mutation.Gateway
}

// NewLocal wraps store with its own pipeline and gateway.
func NewLocal(store *engine.MemStore, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		store:    store,
		pipeline: ingest.NewPipeline(store, ingest.WithLogger(logger)),
		gateway:  mutation.NewGateway(store, logger, nil),
	}
}

func (l *Local) Get(recordID int64) (schema.Record, error) {
	return l.store.Get(recordID)
}

func (l *Local) List(q schema.Query) ([]schema.Record, error) {
	opts, err := query.Compile(q)
	if err != nil {
		return nil, err
	}
	return query.Run(l.store.List(), opts), nil
}

func (l *Local) History(externalID string) ([]schema.Record, error) {
	return l.store.History(externalID)
}

func (l *Local) Stats() (schema.Stats, error) {
	return l.store.Stats(), nil
}

func (l *Local) Update(ctx context.Context, recordID int64, patch schema.Patch) (schema.Record, error) {
	return l.gateway.Update(ctx, recordID, patch)
}

func (l *Local) Ingest(ctx context.Context, rows []map[string]any) (schema.IngestResult, error) {
	return l.pipeline.Ingest(ctx, ingest.RowsFromMaps(rows)), nil
}

// Close waits for pending background writes.
func (l *Local) Close() error {
	l.store.Wait()
	return nil
}
