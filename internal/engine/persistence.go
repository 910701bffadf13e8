package engine

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-collections/internal/vault"
	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// Persistence handles the disk I/O for the MemStore: one JSON file per
// record, optionally sealed with a vault key.
type Persistence struct {
	DataDir string

	mu       sync.Mutex // Protects concurrent writes to the filesystem
	key      []byte
	versions map[int64]uint64
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir, versions: make(map[int64]uint64)}, nil
}

// EnableEncryption seals every file written from now on with key and
// expects sealed files on load.
func (p *Persistence) EnableEncryption(key []byte) error {
	if len(key) != vault.KeySize {
		return vault.ErrKeySize
	}
	p.mu.Lock()
	p.key = key
	p.mu.Unlock()
	return nil
}

func (p *Persistence) recordPath(id int64) string {
	return filepath.Join(p.DataDir, fmt.Sprintf("record-%d.json", id))
}

// SaveRecord writes a single record atomically. A version older than the
// last one written for the same record is ignored.
func (p *Persistence) SaveRecord(rec schema.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.versions[rec.RecordID]; ok && rec.Version < v {
		return nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if p.key != nil {
		if data, err = vault.Seal(data, p.key); err != nil {
			return fmt.Errorf("seal record %d: %w", rec.RecordID, err)
		}
	}

	filePath := p.recordPath(rec.RecordID)
	tempPath := filePath + ".tmp"

	// Write to a temporary file first, then rename over the old one so a
	// crash leaves either the old or the new file, never a torn one.
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		return err
	}
	p.versions[rec.RecordID] = rec.Version
	return nil
}

// LoadAll returns every record found in the data directory, ordered by
// record_id. Files not named record-<id>.json are ignored. A record file
// that cannot be read, opened or decoded fails the whole load: starting
// without it would let its record_id be minted again.
func (p *Persistence) LoadAll() ([]schema.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	var records []schema.Record
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasPrefix(name, "record-") || filepath.Ext(name) != ".json" {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "record-"), ".json"), 10, 64)
		if err != nil {
			continue
		}

		content, err := os.ReadFile(filepath.Join(p.DataDir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if p.key != nil {
			if content, err = vault.Open(content, p.key); err != nil {
				return nil, fmt.Errorf("open sealed %s (wrong vault key?): %w", name, err)
			}
		}

		var rec schema.Record
		if err := json.Unmarshal(content, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if rec.RecordID != id {
			return nil, fmt.Errorf("%s holds record_id %d", name, rec.RecordID)
		}
		records = append(records, rec)
		p.versions[rec.RecordID] = rec.Version
	}

	slices.SortFunc(records, func(a, b schema.Record) int {
		return cmp.Compare(a.RecordID, b.RecordID)
	})
	return records, nil
}
