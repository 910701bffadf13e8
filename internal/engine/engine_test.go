package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func seed(t *testing.T, ms *MemStore) (locked, editable schema.Record) {
	t.Helper()
	d := schema.NewDate(2024, time.January, 1)
	locked, err := ms.Append(schema.Record{
		ExternalID:     "A1",
		Name:           schema.Text("Bob"),
		Contact:        schema.Text("555"),
		CollectionDate: &d,
		Locked:         true,
	})
	if err != nil {
		t.Fatalf("Append locked failed: %v", err)
	}
	editable, err = ms.Append(schema.Record{
		ExternalID: "A2",
		Name:       schema.Text("Alice"),
	})
	if err != nil {
		t.Fatalf("Append editable failed: %v", err)
	}
	return locked, editable
}

func TestMemStore_AppendGet(t *testing.T) {
	ms := NewMemStore(nil, nil)
	locked, editable := seed(t, ms)

	if locked.RecordID != 1 || editable.RecordID != 2 {
		t.Fatalf("Expected ids 1 and 2, got %d and %d", locked.RecordID, editable.RecordID)
	}
	if locked.Version != 1 || locked.LastUpdatedAt.IsZero() {
		t.Errorf("Append should set version and timestamp: %+v", locked)
	}

	got, err := ms.Get(editable.RecordID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ExternalID != "A2" || schema.Deref(got.Name) != "Alice" || got.Locked {
		t.Errorf("Unexpected record: %+v", got)
	}

	_, err = ms.Get(99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_AppendRequiresID(t *testing.T) {
	ms := NewMemStore(nil, nil)
	_, err := ms.Append(schema.Record{ExternalID: "  ", Name: schema.Text("NoId")})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	if ms.Stats().Total != 0 {
		t.Error("Rejected append must not store anything")
	}
}

func TestMemStore_ApplyUpdateEditable(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ms := NewMemStore(nil, nil, WithClock(stepClock(start)))
	_, editable := seed(t, ms)

	email := "alice@example.com"
	updated, err := ms.ApplyUpdate(editable.RecordID, schema.Changes{Email: &email}, "clerk")
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	if schema.Deref(updated.Email) != email {
		t.Errorf("Email not applied: %+v", updated)
	}
	if schema.Deref(updated.Name) != "Alice" || updated.Contact != nil || updated.CollectionDate != nil {
		t.Errorf("Unpatched fields changed: %+v", updated)
	}
	if updated.RecordID != editable.RecordID || updated.ExternalID != editable.ExternalID || updated.Locked {
		t.Errorf("Immutable fields changed: %+v", updated)
	}
	if updated.LastUpdatedAt.Before(editable.LastUpdatedAt) {
		t.Errorf("last_updated_at went backwards: %v < %v", updated.LastUpdatedAt, editable.LastUpdatedAt)
	}
	if updated.LastUpdatedBy != "clerk" || updated.Version != 2 {
		t.Errorf("Audit fields not refreshed: %+v", updated)
	}
}

func TestMemStore_ApplyUpdateLockedIsUntouched(t *testing.T) {
	ms := NewMemStore(nil, nil)
	locked, _ := seed(t, ms)

	before, _ := ms.Get(locked.RecordID)
	beforeJSON, _ := json.Marshal(before)

	name, email, blank := "Eve", "eve@example.com", ""
	patches := []schema.Changes{
		{Name: &name},
		{Email: &email},
		{Contact: &blank},
		{Date: &schema.Date{}},
		{},
	}
	for _, ch := range patches {
		_, err := ms.ApplyUpdate(locked.RecordID, ch, "mallory")
		if !errors.Is(err, ErrLocked) {
			t.Fatalf("Expected ErrLocked, got %v", err)
		}
	}

	after, _ := ms.Get(locked.RecordID)
	afterJSON, _ := json.Marshal(after)
	if !bytes.Equal(beforeJSON, afterJSON) {
		t.Errorf("Locked record changed:\nbefore %s\nafter  %s", beforeJSON, afterJSON)
	}
}

func TestMemStore_ApplyUpdateNotFound(t *testing.T) {
	ms := NewMemStore(nil, nil)
	name := "x"
	_, err := ms.ApplyUpdate(42, schema.Changes{Name: &name}, "clerk")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_TimestampNeverMovesBackwards(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ms := NewMemStore(nil, nil, WithClock(clock))
	_, editable := seed(t, ms)

	now = now.Add(-time.Hour)
	name := "Alicia"
	updated, err := ms.ApplyUpdate(editable.RecordID, schema.Changes{Name: &name}, "clerk")
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if !updated.LastUpdatedAt.Equal(editable.LastUpdatedAt) {
		t.Errorf("Expected clamped timestamp %v, got %v", editable.LastUpdatedAt, updated.LastUpdatedAt)
	}
}

func TestMemStore_HistoryAndStats(t *testing.T) {
	ms := NewMemStore(nil, nil, WithClock(stepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))
	seed(t, ms)
	again, _ := ms.Append(schema.Record{ExternalID: "A2", Contact: schema.Text("777")})

	hist, err := ms.History("A2")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist) != 2 || hist[0].RecordID != again.RecordID {
		t.Errorf("Expected newest first, got %+v", hist)
	}

	if _, err := ms.History("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	st := ms.Stats()
	if st.Total != 3 || st.Locked != 1 || st.Editable != 2 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestMemStore_ListIsCopy(t *testing.T) {
	ms := NewMemStore(nil, nil)
	seed(t, ms)

	list := ms.List()
	if len(list) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(list))
	}
	for i := range list {
		*list[i].Name = "tampered"
	}
	for _, rec := range ms.List() {
		if schema.Deref(rec.Name) == "tampered" {
			t.Fatal("List must return copies")
		}
	}
}

func TestMemStore_ConcurrentUpdatesSameRecord(t *testing.T) {
	ms := NewMemStore(nil, nil)
	_, editable := seed(t, ms)

	const workers = 20
	var wg sync.WaitGroup
	versions := make(chan uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "writer"
			rec, err := ms.ApplyUpdate(editable.RecordID, schema.Changes{Name: &name}, "w")
			if err == nil {
				versions <- rec.Version
			}
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[uint64]bool)
	for v := range versions {
		if seen[v] {
			t.Fatalf("Two updates produced version %d", v)
		}
		seen[v] = true
	}
	final, _ := ms.Get(editable.RecordID)
	if final.Version != workers+1 {
		t.Errorf("Expected version %d, got %d", workers+1, final.Version)
	}
}

func TestMemStore_ConcurrentAppendsMintUniqueIDs(t *testing.T) {
	ms := NewMemStore(nil, nil)
	const (
		numGoroutines = 10
		numOps        = 50
	)
	var wg sync.WaitGroup
	ids := make(chan int64, numGoroutines*numOps)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				rec, err := ms.Append(schema.Record{ExternalID: "X", Name: schema.Text("n")})
				if err == nil {
					ids <- rec.RecordID
				}
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("record_id %d minted twice", id)
		}
		seen[id] = true
	}
	if len(seen) != numGoroutines*numOps {
		t.Errorf("Expected %d ids, got %d", numGoroutines*numOps, len(seen))
	}
}

func TestPersistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "collections-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	p, err := NewPersistence(tmpDir)
	if err != nil {
		t.Fatalf("NewPersistence failed: %v", err)
	}

	rec := schema.Record{RecordID: 7, ExternalID: "A7", Name: schema.Text("Zed"), Version: 2}
	if err := p.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(filepath.Join(tmpDir, "record-7.json")); os.IsNotExist(err) {
		t.Fatal("Record file was not created")
	}

	// An older version must not overwrite the newer one
	stale := rec
	stale.Name = schema.Text("Old")
	stale.Version = 1
	if err := p.SaveRecord(stale); err != nil {
		t.Fatalf("SaveRecord stale failed: %v", err)
	}

	loaded, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 1 || schema.Deref(loaded[0].Name) != "Zed" {
		t.Errorf("Loaded data mismatch: %+v", loaded)
	}
}

func TestPersistence_SkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewPersistence(dir)
	_ = os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0o600)
	_ = os.WriteFile(filepath.Join(dir, "record-x.json"), []byte(`{}`), 0o600)
	_ = p.SaveRecord(schema.Record{RecordID: 1, ExternalID: "A1", Version: 1})

	loaded, err := p.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].RecordID != 1 {
		t.Errorf("Expected only record 1, got %+v", loaded)
	}
}

func TestPersistence_CorruptRecordFailsLoad(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewPersistence(dir)
	_ = p.SaveRecord(schema.Record{RecordID: 1, ExternalID: "A1", Version: 1})
	_ = os.WriteFile(filepath.Join(dir, "record-3.json"), []byte(`{broken`), 0o600)

	if _, err := p.LoadAll(); err == nil || !strings.Contains(err.Error(), "record-3.json") {
		t.Fatalf("Expected a load error naming record-3.json, got %v", err)
	}
}

func TestPersistence_WrongKeyFailsLoad(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewPersistence(dir)
	if err := p.EnableEncryption([]byte("thisis32byteslongsecretkey123456")); err != nil {
		t.Fatalf("EnableEncryption failed: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := p.SaveRecord(schema.Record{RecordID: i, ExternalID: "A", Name: schema.Text("Bob"), Locked: true, Version: 1}); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}
	}
	before, _ := os.ReadFile(filepath.Join(dir, "record-1.json"))

	p2, _ := NewPersistence(dir)
	_ = p2.EnableEncryption([]byte("another32byteslongsecretkey65432"))
	loaded, err := p2.LoadAll()
	if err == nil {
		t.Fatalf("Expected LoadAll to fail with the wrong key, loaded %+v", loaded)
	}

	after, _ := os.ReadFile(filepath.Join(dir, "record-1.json"))
	if string(before) != string(after) {
		t.Error("Sealed record file must be left untouched")
	}
}

func TestPersistence_Encrypted(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewPersistence(dir)
	key := []byte("thisis32byteslongsecretkey123456")
	if err := p.EnableEncryption(key); err != nil {
		t.Fatalf("EnableEncryption failed: %v", err)
	}

	rec := schema.Record{RecordID: 1, ExternalID: "A1", Contact: schema.Text("555-0100"), Version: 1}
	if err := p.SaveRecord(rec); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, "record-1.json"))
	if strings.Contains(string(raw), "555-0100") {
		t.Fatal("Record should be sealed on disk")
	}

	p2, _ := NewPersistence(dir)
	_ = p2.EnableEncryption(key)
	loaded, err := p2.LoadAll()
	if err != nil || len(loaded) != 1 || schema.Deref(loaded[0].Contact) != "555-0100" {
		t.Fatalf("Encrypted round trip failed: %v %+v", err, loaded)
	}

	if err := p2.EnableEncryption([]byte("short")); err == nil {
		t.Error("Expected key size error")
	}
}

func TestMemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	p, _ := NewPersistence(dir)
	ms := NewMemStore(nil, p)
	_, editable := seed(t, ms)

	email := "alice@example.com"
	if _, err := ms.ApplyUpdate(editable.RecordID, schema.Changes{Email: &email}, "clerk"); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	ms.Wait() // Wait for background persistence

	// Create new MemStore and load data
	p2, _ := NewPersistence(dir)
	loaded, err := p2.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	ms2 := NewMemStore(loaded, p2)

	got, err := ms2.Get(editable.RecordID)
	if err != nil {
		t.Fatalf("Get on new store failed: %v", err)
	}
	if schema.Deref(got.Email) != email || got.Version != 2 {
		t.Errorf("Expected persisted update, got %+v", got)
	}

	next, _ := ms2.Append(schema.Record{ExternalID: "A3", Name: schema.Text("Cy")})
	if next.RecordID != 3 {
		t.Errorf("Expected minting to resume at 3, got %d", next.RecordID)
	}
}

func TestMigrate(t *testing.T) {
	src, _ := NewPersistence(t.TempDir())
	dst, _ := NewPersistence(t.TempDir())
	for i := int64(1); i <= 3; i++ {
		_ = src.SaveRecord(schema.Record{RecordID: i, ExternalID: "M", Version: 1})
	}

	n, err := Migrate(src, dst)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 migrated, got %d", n)
	}
	loaded, _ := dst.LoadAll()
	if len(loaded) != 3 || loaded[2].RecordID != 3 {
		t.Errorf("Destination mismatch: %+v", loaded)
	}
}
