package plane

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/liftshift/liftshift/internal/schema"
)

// MemoryPlane is an in-memory Plane used by tests and dry runs. It honors
// the full contract: keyed upsert writes, primary-key ordered paging, and
// sentinel-preserving deletes.
type MemoryPlane struct {
	mu     sync.RWMutex
	tables map[string]map[schema.ID]schema.Record

	// FailWith, when set, is consulted before every operation and lets tests
	// inject plane errors. op is one of "read", "write", "delete", "count",
	// "lookup", "exists".
	FailWith func(op, table string) error
}

// NewMemoryPlane returns an empty in-memory plane.
func NewMemoryPlane() *MemoryPlane {
	return &MemoryPlane{tables: make(map[string]map[schema.ID]schema.Record)}
}

// Seed loads rows into a table, creating it if needed. Test setup helper.
func (m *MemoryPlane) Seed(table string, rows ...schema.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[table]
	if t == nil {
		t = make(map[schema.ID]schema.Record)
		m.tables[table] = t
	}
	for _, row := range rows {
		id, err := row.PrimaryKey()
		if err != nil {
			return err
		}
		t[id] = row.Clone()
	}
	return nil
}

// CreateTable registers an empty table.
func (m *MemoryPlane) CreateTable(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[schema.ID]schema.Record)
	}
}

func (m *MemoryPlane) fail(op, table string) error {
	if m.FailWith == nil {
		return nil
	}
	return m.FailWith(op, table)
}

// sortedIDs returns the table's ids in primary-key byte order.
func sortedIDs(t map[schema.ID]schema.Record) []schema.ID {
	ids := make([]schema.ID, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

// BulkRead returns one page ordered by primary key, restartable from cursor.
// A missing table yields TableNotFound.
func (m *MemoryPlane) BulkRead(ctx context.Context, table string, cursor Cursor, batchSize int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if err := m.fail("read", table); err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return Page{}, NewError(KindTableNotFound, table, nil)
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	var after schema.ID
	haveCursor := cursor != ""
	if haveCursor {
		id, err := schema.ParseID(string(cursor))
		if err != nil {
			return Page{}, NewError(KindConstraintViolation, table, err)
		}
		after = id
	}

	var page Page
	for _, id := range sortedIDs(t) {
		if haveCursor && bytes.Compare(id[:], after[:]) <= 0 {
			continue
		}
		page.Rows = append(page.Rows, t[id].Clone())
		if len(page.Rows) == batchSize {
			page.Next = Cursor(id.String())
			break
		}
	}
	return page, nil
}

// BulkWrite upserts rows by primary key.
func (m *MemoryPlane) BulkWrite(ctx context.Context, table string, rows []schema.Record) (WriteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return WriteOutcome{}, err
	}
	if err := m.fail("write", table); err != nil {
		return WriteOutcome{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tables[table]
	if t == nil {
		t = make(map[schema.ID]schema.Record)
		m.tables[table] = t
	}
	for _, row := range rows {
		id, err := row.PrimaryKey()
		if err != nil {
			return WriteOutcome{}, NewError(KindConstraintViolation, table, err)
		}
		t[id] = row.Clone()
	}
	return WriteOutcome{Written: len(rows)}, nil
}

// DeleteAll removes every row except the all-zero sentinel slot.
func (m *MemoryPlane) DeleteAll(ctx context.Context, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.fail("delete", table); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return 0, NewError(KindTableNotFound, table, nil)
	}
	var deleted int64
	for id := range t {
		if id.IsZero() {
			continue
		}
		delete(t, id)
		deleted++
	}
	return deleted, nil
}

// Count returns the number of rows in a table, sentinel slot included.
func (m *MemoryPlane) Count(ctx context.Context, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := m.fail("count", table); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return 0, NewError(KindTableNotFound, table, nil)
	}
	return int64(len(t)), nil
}

// Lookup fetches a single row by primary key.
func (m *MemoryPlane) Lookup(ctx context.Context, table string, id schema.ID) (schema.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := m.fail("lookup", table); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, false, NewError(KindTableNotFound, table, nil)
	}
	row, ok := t[id]
	if !ok {
		return nil, false, nil
	}
	return row.Clone(), true, nil
}

// Exists reports whether the table is present on the plane.
func (m *MemoryPlane) Exists(ctx context.Context, table string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := m.fail("exists", table); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tables[table]
	return ok, nil
}
