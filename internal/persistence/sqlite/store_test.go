package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

var _ engine.Persister = (*Store)(nil)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "collections.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, path, s.Path())

	d := schema.NewDate(2024, time.January, 1)
	rec := schema.Record{
		RecordID:       1,
		ExternalID:     "A1",
		Name:           schema.Text("Bob"),
		Contact:        schema.Text("555"),
		CollectionDate: &d,
		Locked:         true,
		Version:        1,
	}
	require.NoError(t, s.SaveRecord(rec))
	require.NoError(t, s.SaveRecord(schema.Record{RecordID: 2, ExternalID: "A2", Version: 1}))

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(1), loaded[0].RecordID)
	assert.True(t, loaded[0].Locked)
	assert.Equal(t, "2024-01-01", loaded[0].CollectionDate.String())
}

func TestStoreIgnoresStaleVersion(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.SaveRecord(schema.Record{RecordID: 5, ExternalID: "A5", Name: schema.Text("new"), Version: 3}))
	require.NoError(t, s.SaveRecord(schema.Record{RecordID: 5, ExternalID: "A5", Name: schema.Text("old"), Version: 2}))

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "new", schema.Deref(loaded[0].Name))
	assert.Equal(t, uint64(3), loaded[0].Version)
}

func TestStoreBacksMemStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	s, err := NewStore(path)
	require.NoError(t, err)

	ms := engine.NewMemStore(nil, s)
	rec, err := ms.Append(schema.Record{ExternalID: "A2", Name: schema.Text("Alice")})
	require.NoError(t, err)
	email := "alice@example.com"
	_, err = ms.ApplyUpdate(rec.RecordID, schema.Changes{Email: &email}, "clerk")
	require.NoError(t, err)
	ms.Wait()
	require.NoError(t, s.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	loaded, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, email, schema.Deref(loaded[0].Email))
	assert.Equal(t, "clerk", loaded[0].LastUpdatedBy)
}

func TestMigrateFromFiles(t *testing.T) {
	files, err := engine.NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.SaveRecord(schema.Record{RecordID: 1, ExternalID: "A1", Version: 1}))
	require.NoError(t, files.SaveRecord(schema.Record{RecordID: 2, ExternalID: "A2", Version: 4}))

	s, err := NewStore(filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	n, err := engine.Migrate(files, s)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	loaded, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}
