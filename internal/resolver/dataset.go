// Package resolver loads the source dataset into memory, analyzes every
// declared foreign key, and rewrites records so the resolved dataset
// satisfies all non-nullable references before it is written to the target.
package resolver

import (
	"github.com/elliotchance/orderedmap/v2"

	"github.com/liftshift/liftshift/internal/schema"
)

// Dataset is the in-memory, per-table primary-key index of all core records.
// Table iteration follows load order and records keep their insertion order,
// so write batches derived from a dataset are deterministic.
//
// A Dataset is owned exclusively by the resolver until resolution completes,
// then handed off to the engine by move.
type Dataset struct {
	order  []string
	tables map[string]*orderedmap.OrderedMap[schema.ID, schema.Record]
}

// NewDataset creates an empty dataset with the given table load order.
func NewDataset(order []string) *Dataset {
	ds := &Dataset{
		order:  append([]string(nil), order...),
		tables: make(map[string]*orderedmap.OrderedMap[schema.ID, schema.Record], len(order)),
	}
	for _, table := range order {
		ds.tables[table] = orderedmap.NewOrderedMap[schema.ID, schema.Record]()
	}
	return ds
}

// Tables returns table names in load order.
func (ds *Dataset) Tables() []string {
	return ds.order
}

// Put indexes a record under its primary key.
func (ds *Dataset) Put(table string, rec schema.Record) error {
	id, err := rec.PrimaryKey()
	if err != nil {
		return err
	}
	ds.tables[table].Set(id, rec)
	return nil
}

// Get returns the record with the given id, if present.
func (ds *Dataset) Get(table string, id schema.ID) (schema.Record, bool) {
	t, ok := ds.tables[table]
	if !ok {
		return nil, false
	}
	return t.Get(id)
}

// Has reports whether a record with the given id exists in the table.
func (ds *Dataset) Has(table string, id schema.ID) bool {
	_, ok := ds.Get(table, id)
	return ok
}

// Remove drops a record from its table.
func (ds *Dataset) Remove(table string, id schema.ID) bool {
	t, ok := ds.tables[table]
	if !ok {
		return false
	}
	return t.Delete(id)
}

// Len returns the number of records in a table.
func (ds *Dataset) Len(table string) int {
	t, ok := ds.tables[table]
	if !ok {
		return 0
	}
	return t.Len()
}

// TotalRows returns the number of records across all tables.
func (ds *Dataset) TotalRows() int {
	total := 0
	for _, table := range ds.order {
		total += ds.tables[table].Len()
	}
	return total
}

// Records returns a table's records in insertion order.
func (ds *Dataset) Records(table string) []schema.Record {
	t, ok := ds.tables[table]
	if !ok {
		return nil
	}
	out := make([]schema.Record, 0, t.Len())
	for el := t.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// IDs returns a table's primary keys in insertion order.
func (ds *Dataset) IDs(table string) []schema.ID {
	t, ok := ds.tables[table]
	if !ok {
		return nil
	}
	out := make([]schema.ID, 0, t.Len())
	for el := t.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}

// Counts returns per-table row counts.
func (ds *Dataset) Counts() map[string]int64 {
	counts := make(map[string]int64, len(ds.order))
	for _, table := range ds.order {
		counts[table] = int64(ds.tables[table].Len())
	}
	return counts
}

// Clone deep-copies the dataset. Records are cloned so mutations on the copy
// never leak into the original.
func (ds *Dataset) Clone() *Dataset {
	out := NewDataset(ds.order)
	for _, table := range ds.order {
		t := ds.tables[table]
		for el := t.Front(); el != nil; el = el.Next() {
			out.tables[table].Set(el.Key, el.Value.Clone())
		}
	}
	return out
}
