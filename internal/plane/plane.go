// Package plane defines the data plane adapter: a thin polymorphic interface
// over the stateful backend holding the core tables. The migration core only
// ever talks to a backend through this interface.
package plane

import (
	"context"

	"github.com/liftshift/liftshift/internal/schema"
)

// Cursor marks a position in a bulk read. The empty cursor is the start of
// the table; a page with an empty Next cursor is the last page.
type Cursor string

// Page is one fixed-size slice of a table, ordered by primary key.
type Page struct {
	Rows []schema.Record
	Next Cursor
}

// Done reports whether this is the final page.
func (p Page) Done() bool {
	return p.Next == ""
}

// WriteOutcome reports the result of a bulk write.
type WriteOutcome struct {
	Written int
}

// Plane is the capability set every backend adapter must provide.
//
// BulkWrite must be idempotent on primary key (upsert semantics).
// DeleteAll must skip the row keyed by the all-zero sentinel id so reserved
// placeholder slots survive a rollback. Implementations surface errors via
// *Error and never retry; retry is the caller's policy.
type Plane interface {
	BulkRead(ctx context.Context, table string, cursor Cursor, batchSize int) (Page, error)
	BulkWrite(ctx context.Context, table string, rows []schema.Record) (WriteOutcome, error)
	DeleteAll(ctx context.Context, table string) (int64, error)
	Count(ctx context.Context, table string) (int64, error)
	Lookup(ctx context.Context, table string, id schema.ID) (schema.Record, bool, error)
	Exists(ctx context.Context, table string) (bool, error)
}
