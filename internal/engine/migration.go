package engine

import "fmt"

// Migrate copies every record from src into dst and returns how many were
// written. It works between any two persisters, e.g. a JSON data directory
// into SQLite (the "upgrade") or SQLite back to files (the "backup").
func Migrate(src, dst Persister) (int, error) {
	records, err := src.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to load source records: %w", err)
	}

	for i, rec := range records {
		if err := dst.SaveRecord(rec); err != nil {
			return i, fmt.Errorf("failed to save record %d in destination: %w", rec.RecordID, err)
		}
	}
	return len(records), nil
}
