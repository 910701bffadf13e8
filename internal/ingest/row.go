// Package ingest turns spreadsheet rows into stored records: it classifies
// each row as locked or editable, coerces typed cells and reports per-row
// problems without aborting the batch.
package ingest

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Canonical column names.
const (
	ColID        = "ID"
	ColName      = "Name"
	ColContact   = "Contact"
	ColDate      = "Date"
	ColCollected = "Collected"
	ColEmail     = "Email"
)

// RequiredColumns are the three columns that decide the lock state.
var RequiredColumns = []string{ColID, ColName, ColContact}

// OptionalColumns are recognised but never affect classification.
// Email is accepted in the header and ignored on import.
var OptionalColumns = []string{ColDate, ColCollected, ColEmail}

var headerAliases = map[string]string{
	"id":              ColID,
	"id no":           ColID,
	"id_no":           ColID,
	"name":            ColName,
	"contact":         ColContact,
	"phone":           ColContact,
	"phone no":        ColContact,
	"date":            ColDate,
	"collection date": ColDate,
	"collection_date": ColDate,
	"collected":       ColCollected,
	"email":           ColEmail,
	"email address":   ColEmail,
}

// nullMarkers are cell values that spreadsheet exports use for "no value".
var nullMarkers = map[string]struct{}{
	"nan":  {},
	"nat":  {},
	"null": {},
	"none": {},
	"nil":  {},
	"n/a":  {},
	"#n/a": {},
}

// CanonicalColumn maps a header cell to its canonical column name.
// ok is false for columns the ledger does not know.
func CanonicalColumn(header string) (string, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(header), " "))
	col, ok := headerAliases[key]
	return col, ok
}

// Row is one source row keyed by canonical column name.
type Row map[string]string

// NewRow builds a Row from header-keyed cells, canonicalising recognised
// headers and keeping unknown ones verbatim. Headers are visited in sorted
// order so that aliases of one column resolve the same way every time.
func NewRow(cells map[string]string) Row {
	row := make(Row, len(cells))
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		row.put(k, cells[k])
	}
	return row
}

// RowFromCells builds a Row from a header line and one data line of a
// sheet. Missing trailing cells are empty and blank headers are ignored.
// When several headers name the same column the first filled cell wins.
func RowFromCells(headers, cells []string) Row {
	row := make(Row, len(headers))
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			continue
		}
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		row.put(h, v)
	}
	return row
}

func (r Row) put(header, v string) {
	key := header
	if col, ok := CanonicalColumn(header); ok {
		key = col
	}
	if _, exists := r[key]; exists && r.Filled(key) {
		return
	}
	r[key] = v
}

// Blank reports whether no cell of the row holds a value.
func (r Row) Blank() bool {
	for k := range r {
		if r.Filled(k) {
			return false
		}
	}
	return true
}

// RowsFromMaps converts decoded JSON objects into rows. Non-string cells
// are formatted with %v; null cells are dropped.
func RowsFromMaps(maps []map[string]any) []Row {
	rows := make([]Row, 0, len(maps))
	for _, m := range maps {
		cells := make(map[string]string, len(m))
		for k, v := range m {
			switch val := v.(type) {
			case nil:
				continue
			case string:
				cells[k] = val
			case float64:
				cells[k] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				cells[k] = fmt.Sprint(val)
			}
		}
		rows = append(rows, NewRow(cells))
	}
	return rows
}

// Value returns the trimmed cell, or "" when it is missing or a null marker.
func (r Row) Value(col string) string {
	v := strings.TrimSpace(r[col])
	if _, null := nullMarkers[strings.ToLower(v)]; null {
		return ""
	}
	return v
}

// Filled reports whether col holds a real value.
func (r Row) Filled(col string) bool {
	return r.Value(col) != ""
}

// CheckHeaders reports missing required columns, unknown columns and
// columns named by more than one header.
func CheckHeaders(headers []string) []string {
	seen := make(map[string][]string, len(headers))
	var order []string
	var unexpected []string
	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		col, ok := CanonicalColumn(h)
		if !ok {
			unexpected = append(unexpected, h)
			continue
		}
		if _, dup := seen[col]; !dup {
			order = append(order, col)
		}
		seen[col] = append(seen[col], h)
	}

	var issues []string
	for _, col := range RequiredColumns {
		if len(seen[col]) == 0 {
			issues = append(issues, fmt.Sprintf("header: missing required column: %s", col))
		}
	}
	for _, col := range order {
		if names := seen[col]; len(names) > 1 {
			issues = append(issues, fmt.Sprintf("header: duplicate column %s (%s); the first filled cell is used",
				col, strings.Join(names, ", ")))
		}
	}
	if len(unexpected) > 0 {
		issues = append(issues, fmt.Sprintf("header: unexpected columns found: %s", strings.Join(unexpected, ", ")))
	}
	return issues
}
