package schema

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlaceholder is returned when placeholder synthesis is
// requested for a table outside PlaceholderTables.
var ErrUnsupportedPlaceholder = errors.New("placeholder synthesis not supported")

// Record is a single row keyed by column name. Every record carries an "id"
// field holding its primary key.
type Record map[string]any

// PrimaryKey extracts the record's id.
func (r Record) PrimaryKey() (ID, error) {
	v, ok := r["id"]
	if !ok {
		return ZeroID, fmt.Errorf("record has no id field")
	}
	return CoerceID(v)
}

// Ref reads a reference field. The second return is false when the field is
// absent or null.
func (r Record) Ref(field string) (ID, bool, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return ZeroID, false, nil
	}
	id, err := CoerceID(v)
	if err != nil {
		return ZeroID, false, fmt.Errorf("field %s: %w", field, err)
	}
	return id, true, nil
}

// ClearRef nulls out a reference field in place.
func (r Record) ClearRef(field string) {
	r[field] = nil
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
