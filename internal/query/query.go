// Package query filters, sorts and pages a snapshot of records. It holds no
// state and never touches the store.
package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/celerix-dev/celerix-collections/pkg/schema"
)

// SortKey names a sortable record field.
type SortKey string

const (
	SortRecordID       SortKey = "record_id"
	SortExternalID     SortKey = "external_id"
	SortName           SortKey = "name"
	SortContact        SortKey = "contact"
	SortEmail          SortKey = "email"
	SortCollectionDate SortKey = "collection_date"
	SortLocked         SortKey = "locked"
	SortLastUpdatedAt  SortKey = "last_updated_at"
)

var sortAliases = map[string]SortKey{
	"id":        SortExternalID,
	"date":      SortCollectionDate,
	"read_only": SortLocked,
}

// ParseSortKey accepts the canonical key names and the JSON field aliases.
func ParseSortKey(s string) (SortKey, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SortRecordID, nil
	}
	if k, ok := sortAliases[s]; ok {
		return k, nil
	}
	switch k := SortKey(s); k {
	case SortRecordID, SortExternalID, SortName, SortContact, SortEmail,
		SortCollectionDate, SortLocked, SortLastUpdatedAt:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown sort key %q", schema.ErrValidation, s)
}

// LockFilter selects records by lock state.
type LockFilter int

const (
	AnyLock LockFilter = iota
	OnlyLocked
	OnlyEditable
)

// Options describe one view over the records.
type Options struct {
	// IDFilter matches external ids; substring unless Exact is set.
	IDFilter   string
	Exact      bool
	Lock       LockFilter
	SortBy     SortKey
	Descending bool
	Offset     int
	// Limit 0 means no limit.
	Limit int
}

// Compile turns a wire query into Options. Sort defaults to record_id and
// order defaults to descending, newest records first.
func Compile(q schema.Query) (Options, error) {
	key, err := ParseSortKey(q.Sort)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		IDFilter:   strings.TrimSpace(q.ID),
		Exact:      q.Exact,
		SortBy:     key,
		Descending: true,
		Offset:     q.Skip,
		Limit:      q.Limit,
	}
	switch strings.ToLower(strings.TrimSpace(q.Order)) {
	case "", "desc":
	case "asc":
		opts.Descending = false
	default:
		return Options{}, fmt.Errorf("%w: order must be asc or desc, got %q", schema.ErrValidation, q.Order)
	}
	if q.ReadOnly != nil {
		if *q.ReadOnly {
			opts.Lock = OnlyLocked
		} else {
			opts.Lock = OnlyEditable
		}
	}
	if q.Skip < 0 || q.Limit < 0 {
		return Options{}, fmt.Errorf("%w: skip and limit must not be negative", schema.ErrValidation)
	}
	return opts, nil
}

// Run applies opts to records and returns a new slice. The input is not
// modified. Equal sort values are ordered by record_id ascending so the
// result is a total order.
func Run(records []schema.Record, opts Options) []schema.Record {
	out := make([]schema.Record, 0, len(records))
	for _, rec := range records {
		if match(rec, opts) {
			out = append(out, rec)
		}
	}

	less := compareBy(opts.SortBy)
	slices.SortFunc(out, func(a, b schema.Record) int {
		c := less(a, b)
		if opts.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return out[:0]
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

func match(rec schema.Record, opts Options) bool {
	switch opts.Lock {
	case OnlyLocked:
		if !rec.Locked {
			return false
		}
	case OnlyEditable:
		if rec.Locked {
			return false
		}
	}
	if opts.IDFilter == "" {
		return true
	}
	if opts.Exact {
		return rec.ExternalID == opts.IDFilter
	}
	return strings.Contains(strings.ToLower(rec.ExternalID), strings.ToLower(opts.IDFilter))
}

func compareBy(key SortKey) func(a, b schema.Record) int {
	switch key {
	case SortExternalID:
		return func(a, b schema.Record) int { return compareText(a.ExternalID, b.ExternalID) }
	case SortName:
		return func(a, b schema.Record) int { return compareOptional(a.Name, b.Name) }
	case SortContact:
		return func(a, b schema.Record) int { return compareOptional(a.Contact, b.Contact) }
	case SortEmail:
		return func(a, b schema.Record) int { return compareOptional(a.Email, b.Email) }
	case SortCollectionDate:
		return func(a, b schema.Record) int { return compareDate(a.CollectionDate, b.CollectionDate) }
	case SortLocked:
		return func(a, b schema.Record) int { return compareBool(a.Locked, b.Locked) }
	case SortLastUpdatedAt:
		return func(a, b schema.Record) int { return a.LastUpdatedAt.Compare(b.LastUpdatedAt) }
	default:
		return func(a, b schema.Record) int { return cmp.Compare(a.RecordID, b.RecordID) }
	}
}

// compareText is case-insensitive, falling back to byte order so that
// values differing only in case still have a fixed order.
func compareText(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// nil sorts before any value.
func compareOptional(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return compareText(*a, *b)
}

func compareDate(a, b *schema.Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
