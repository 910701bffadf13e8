package ingest

// Rejection reasons.
const (
	ReasonMissingID = "missing ID"
	ReasonOnlyID    = "only ID filled; need Name or Contact"
)

// Classification is the lock decision for one row. A non-empty Reason
// means the row must not become a record.
type Classification struct {
	Locked bool
	Reason string
}

// Accepted reports whether the row may be stored.
func (c Classification) Accepted() bool { return c.Reason == "" }

// Classify decides the lock state from the ID, Name and Contact cells only.
//
//	ID + Name + Contact -> locked
//	ID + one of them    -> editable
//	anything else       -> rejected (ID is mandatory)
func Classify(row Row) Classification {
	if !row.Filled(ColID) {
		return Classification{Reason: ReasonMissingID}
	}
	name, contact := row.Filled(ColName), row.Filled(ColContact)
	switch {
	case name && contact:
		return Classification{Locked: true}
	case name || contact:
		return Classification{Locked: false}
	default:
		return Classification{Reason: ReasonOnlyID}
	}
}
