package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/celerix-collections/internal/ctxutil"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/observability"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// Pipeline validates, classifies and stores rows one at a time. A bad row is
// reported in the result and never stops the batch.
type Pipeline struct {
	store   engine.Appender
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the batch logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records row and batch counters on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline returns a pipeline appending to store.
func NewPipeline(store engine.Appender, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes rows top to bottom. Row numbers in messages are the
// 1-based position in rows; blank rows are skipped without being counted
// but still take up their number. The actor stored on every new record
// comes from ctx.
func (p *Pipeline) Ingest(ctx context.Context, rows []Row) schema.IngestResult {
	res := schema.IngestResult{
		BatchID: uuid.NewString(),
		Errors:  []string{},
	}
	actor := ctxutil.ActorFromContext(ctx)
	seen := make(map[rowKey]int)

	for i, row := range rows {
		if row.Blank() {
			continue
		}
		n := i + 1
		res.RecordsProcessed++

		date, err := ParseCellDate(row.Value(ColDate))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", n, err))
			continue
		}

		cls := Classify(row)
		if !cls.Accepted() {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %s", n, cls.Reason))
			continue
		}

		key := keyOf(row, date)
		if first, dup := seen[key]; dup {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: duplicate of row %d", n, first))
			continue
		}

		rec := schema.Record{
			ExternalID:     row.Value(ColID),
			Name:           schema.Text(row.Value(ColName)),
			Contact:        schema.Text(row.Value(ColContact)),
			CollectionDate: date,
			Locked:         cls.Locked,
			LastUpdatedBy:  actor,
			LastUpdatedAt:  p.now().UTC(),
		}
		if _, err := p.store.Append(rec); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", n, err))
			continue
		}
		seen[key] = n
		res.RecordsAdded++
	}

	rejected := res.RecordsProcessed - res.RecordsAdded
	res.Message = fmt.Sprintf("processed %d rows: %d added, %d rejected",
		res.RecordsProcessed, res.RecordsAdded, rejected)

	p.metrics.ObserveBatch(res.RecordsAdded, rejected)
	p.logger.Info("ingest batch finished",
		"batch_id", res.BatchID,
		"actor", actor,
		"processed", res.RecordsProcessed,
		"added", res.RecordsAdded,
		"rejected", rejected)
	return res
}

type rowKey struct {
	id, name, contact, date string
}

func keyOf(row Row, date *schema.Date) rowKey {
	k := rowKey{
		id:      row.Value(ColID),
		name:    row.Value(ColName),
		contact: row.Value(ColContact),
	}
	if date != nil {
		k.date = date.String()
	}
	return k
}
