package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-collections/internal/config"
	"github.com/celerix-dev/celerix-collections/internal/engine"
	"github.com/celerix-dev/celerix-collections/internal/ingest"
	"github.com/celerix-dev/celerix-collections/internal/persistence/sqlite"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// execute runs the CLI in embedded mode against dataDir.
func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("COLLECTIONS_STORE_ADDR", "")
	t.Setenv("COLLECTIONS_VAULT_KEY", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_IngestListUpdate(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("ID,Name,Contact,Date\nA1,Ann,555,2024-01-02\nB2,Bob,,\nC3,,,\n"), 0o644))

	out, err := execute(t, dir, "ingest", csvPath, "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "3 processed")
	assert.Contains(t, out, "2 added")
	assert.Contains(t, out, ingest.ReasonOnlyID)

	out, err = execute(t, dir, "list", "--sort", "id", "--order", "asc")
	require.NoError(t, err)
	assert.Contains(t, out, "read-only")
	assert.Contains(t, out, "editable")
	assert.Less(t, bytes.Index([]byte(out), []byte("A1")), bytes.Index([]byte(out), []byte("B2")))

	out, err = execute(t, dir, "list", "--read-only", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "A1"`)
	assert.NotContains(t, out, `"id": "B2"`)

	// Record 2 is B2, the editable one.
	out, err = execute(t, dir, "update", "2", "--email", "bob@example.com", "--user", "carol")
	require.NoError(t, err)
	assert.Contains(t, out, "bob@example.com")
	assert.Contains(t, out, "carol")

	_, err = execute(t, dir, "update", "1", "--name", "Eve")
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrLocked)

	_, err = execute(t, dir, "update", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")

	out, err = execute(t, dir, "stats", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 2`)
	assert.Contains(t, out, `"read_only": 1`)
}

func TestCLI_BadArguments(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "get", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid record_id")

	_, err = execute(t, dir, "get", "42")
	assert.ErrorIs(t, err, schema.ErrNotFound)

	_, err = execute(t, dir, "list", "--read-only", "--editable")
	require.Error(t, err)

	_, err = execute(t, dir, "list", "--sort", "colour")
	assert.ErrorIs(t, err, schema.ErrValidation)

	out, err := execute(t, dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No records.")
}

func TestPatchFromFlags(t *testing.T) {
	cmd := updateCmd(&globals{})
	require.NoError(t, cmd.ParseFlags([]string{"--email", "x@y.z", "--date", ""}))

	p := patchFromFlags(cmd, "", "x@y.z", "", "")
	assert.Nil(t, p.Name)
	assert.Nil(t, p.Contact)
	require.NotNil(t, p.Email)
	assert.Equal(t, "x@y.z", *p.Email)
	require.NotNil(t, p.Date, "an explicitly empty flag clears the field")
	assert.Equal(t, "", *p.Date)
}

func TestRowsToMaps(t *testing.T) {
	rows := []ingest.Row{{ingest.ColID: "A1", ingest.ColName: "Ann"}}
	maps := rowsToMaps(rows)
	require.Len(t, maps, 1)
	assert.Equal(t, "A1", maps[0][ingest.ColID])
	assert.Equal(t, "Ann", maps[0][ingest.ColName])
}

func TestRunMigrate_JSONToSQLite(t *testing.T) {
	dir := t.TempDir()
	p, err := engine.NewPersistence(dir)
	require.NoError(t, err)
	require.NoError(t, p.SaveRecord(schema.Record{RecordID: 1, ExternalID: "A1", Locked: true, Version: 1}))
	require.NoError(t, p.SaveRecord(schema.Record{RecordID: 2, ExternalID: "B2", Version: 1}))

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	n, err := runMigrate(context.Background(),
		config.StorageConfig{Driver: config.DriverJSON, DataDir: dir},
		config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: dbPath})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s, err := sqlite.NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	loaded, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	_, err = runMigrate(context.Background(),
		config.StorageConfig{Driver: config.DriverMemory},
		config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: dbPath})
	require.Error(t, err)
}
