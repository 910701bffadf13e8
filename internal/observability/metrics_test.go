package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

func TestObserveBatchAndUpdate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveBatch(3, 1)
	m.ObserveBatch(0, 0)
	m.ObserveUpdate(UpdateApplied)
	m.ObserveUpdate(UpdateLocked)
	m.ObserveUpdate(UpdateLocked)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchesTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsTotal.WithLabelValues(RowAdded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RowsTotal.WithLabelValues(RowRejected)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdatesTotal.WithLabelValues(UpdateLocked)))
}

func TestTrackStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TrackStore(func() schema.Stats { return schema.Stats{Total: 5, Locked: 2, Editable: 3} })

	expected := `
# HELP collections_records Records currently held by the store
# TYPE collections_records gauge
collections_records{state="editable"} 3
collections_records{state="read_only"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "collections_records"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBatch(1, 1)
	m.ObserveUpdate(UpdateApplied)
	m.TrackStore(func() schema.Stats { return schema.Stats{} })
}
