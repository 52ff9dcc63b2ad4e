package plane

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/liftshift/liftshift/internal/schema"
	"github.com/liftshift/liftshift/internal/sqlutil"
)

// SQLPlane adapts a MySQL database to the Plane interface. Primary keys are
// stored in the id column as canonical 36-character UUID text.
type SQLPlane struct {
	db        *sql.DB
	opTimeout time.Duration

	// recovery pins one connection while FOREIGN_KEY_CHECKS is off; the
	// setting is session scoped and must not leak onto pooled connections.
	recovery *sql.Conn
}

// NewSQLPlane wraps an open database handle. opTimeout bounds every single
// plane call; exceeding it surfaces TimedOut.
func NewSQLPlane(db *sql.DB, opTimeout time.Duration) *SQLPlane {
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	return &SQLPlane{db: db, opTimeout: opTimeout}
}

// Open connects to a MySQL backend and verifies the connection.
func Open(ctx context.Context, dsn string, opTimeout time.Duration) (*SQLPlane, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, NewError(KindConnectivityLost, "", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewError(KindConnectivityLost, "", err)
	}
	return NewSQLPlane(db, opTimeout), nil
}

// Close releases the underlying connection pool.
func (p *SQLPlane) Close() error {
	if p.recovery != nil {
		_ = p.recovery.Close()
		p.recovery = nil
	}
	return p.db.Close()
}

func (p *SQLPlane) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opTimeout)
}

// classify maps a driver error onto the plane taxonomy.
func classify(table string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimedOut, table, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return NewError(KindConnectivityLost, table, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1146: // ER_NO_SUCH_TABLE
			return NewError(KindTableNotFound, table, err)
		case 1044, 1045, 1142, 1143: // access denied family
			return NewError(KindPermissionDenied, table, err)
		case 1062, 1451, 1452, 1048, 3819: // duplicate key, FK, not-null, check
			e := NewError(KindConstraintViolation, table, err)
			e.Code = fmt.Sprintf("%d", myErr.Number)
			return e
		case 1040, 1203: // too many connections
			return NewError(KindRateLimited, table, err)
		}
	}
	return NewError(KindConnectivityLost, table, err)
}

// BulkRead pages through the table ordered by id, restarting after cursor.
func (p *SQLPlane) BulkRead(ctx context.Context, table string, cursor Cursor, batchSize int) (Page, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	tbl, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return Page{}, NewError(KindTableNotFound, table, err)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE `id` > ? ORDER BY `id` ASC LIMIT ?", tbl)

	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(opCtx, query, string(cursor), batchSize)
	if err != nil {
		return Page{}, classify(table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Page{}, classify(table, err)
	}

	var page Page
	var lastID string
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Page{}, classify(table, err)
		}

		rec := make(schema.Record, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[col] = v
		}
		id, err := rec.PrimaryKey()
		if err != nil {
			return Page{}, NewError(KindConstraintViolation, table, err)
		}
		rec["id"] = id
		lastID = id.String()
		page.Rows = append(page.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return Page{}, classify(table, err)
	}

	// A full page may have more rows behind it; a short page is the end.
	if len(page.Rows) == batchSize {
		page.Next = Cursor(lastID)
	}
	return page, nil
}

// BulkWrite upserts rows via INSERT ... ON DUPLICATE KEY UPDATE so repeated
// writes of the same page are idempotent.
func (p *SQLPlane) BulkWrite(ctx context.Context, table string, rows []schema.Record) (WriteOutcome, error) {
	if len(rows) == 0 {
		return WriteOutcome{}, nil
	}
	tbl, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return WriteOutcome{}, NewError(KindTableNotFound, table, err)
	}

	// Stable column order taken from the first row.
	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	for i, col := range columns {
		q, err := sqlutil.QuoteIdentifierSafe(col)
		if err != nil {
			return WriteOutcome{}, NewError(KindConstraintViolation, table, err)
		}
		quoted[i] = q
		if col != "id" {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
		}
	}
	if len(updates) == 0 {
		updates = append(updates, "`id` = `id`")
	}

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		tbl,
		strings.Join(quoted, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)

	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(opCtx, nil)
	if err != nil {
		return WriteOutcome{}, classify(table, err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(opCtx, query)
	if err != nil {
		return WriteOutcome{}, classify(table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(columns))
		for i, col := range columns {
			args[i] = bindValue(row[col])
		}
		if _, err := stmt.ExecContext(opCtx, args...); err != nil {
			return WriteOutcome{}, classify(table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return WriteOutcome{}, classify(table, err)
	}
	tx = nil
	return WriteOutcome{Written: len(rows)}, nil
}

// DeleteAll removes every row except the all-zero sentinel slot.
func (p *SQLPlane) DeleteAll(ctx context.Context, table string) (int64, error) {
	tbl, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return 0, NewError(KindTableNotFound, table, err)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE `id` <> ?", tbl)

	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	res, err := p.db.ExecContext(opCtx, query, schema.ZeroID.String())
	if err != nil {
		return 0, classify(table, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, classify(table, err)
	}
	return deleted, nil
}

// Count returns the row count of a table.
func (p *SQLPlane) Count(ctx context.Context, table string) (int64, error) {
	tbl, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return 0, NewError(KindTableNotFound, table, err)
	}

	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", tbl)
	if err := p.db.QueryRowContext(opCtx, query).Scan(&count); err != nil {
		return 0, classify(table, err)
	}
	return count, nil
}

// Lookup fetches a single row by primary key.
func (p *SQLPlane) Lookup(ctx context.Context, table string, id schema.ID) (schema.Record, bool, error) {
	page, err := p.lookupRow(ctx, table, id)
	if err != nil {
		return nil, false, err
	}
	if len(page) == 0 {
		return nil, false, nil
	}
	return page[0], true, nil
}

func (p *SQLPlane) lookupRow(ctx context.Context, table string, id schema.ID) ([]schema.Record, error) {
	tbl, err := sqlutil.QuoteIdentifierSafe(table)
	if err != nil {
		return nil, NewError(KindTableNotFound, table, err)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE `id` = ?", tbl)

	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(opCtx, query, id.String())
	if err != nil {
		return nil, classify(table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(table, err)
	}

	var out []schema.Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(table, err)
		}
		rec := make(schema.Record, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[col] = v
		}
		if pk, err := rec.PrimaryKey(); err == nil {
			rec["id"] = pk
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Exists reports whether the table is present on the backend.
func (p *SQLPlane) Exists(ctx context.Context, table string) (bool, error) {
	opCtx, cancel := p.opCtx(ctx)
	defer cancel()

	var name string
	err := p.db.QueryRowContext(opCtx,
		"SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		table,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(table, err)
	}
	return true, nil
}

// bindValue converts record values to driver-friendly bind arguments.
func bindValue(v any) any {
	switch val := v.(type) {
	case schema.ID:
		return val.String()
	case nil:
		return nil
	default:
		return val
	}
}
