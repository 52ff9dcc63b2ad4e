package plane

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftshift/liftshift/internal/schema"
)

func newSQLPlaneMock(t *testing.T) (*SQLPlane, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLPlane(db, 5*time.Second), mock
}

func TestSQLPlaneBulkRead(t *testing.T) {
	p, mock := newSQLPlaneMock(t)
	id1 := schema.NewID()
	id2 := schema.NewID()

	rows := sqlmock.NewRows([]string{"id", "email"}).
		AddRow(id1.String(), "a@example.com").
		AddRow(id2.String(), "b@example.com")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` WHERE `id` > ? ORDER BY `id` ASC LIMIT ?")).
		WithArgs("", 10).
		WillReturnRows(rows)

	page, err := p.BulkRead(context.Background(), "users", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)
	assert.True(t, page.Done())

	got, err := page.Rows[0].PrimaryKey()
	require.NoError(t, err)
	assert.Equal(t, id1, got)
	assert.Equal(t, "a@example.com", page.Rows[0]["email"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaneBulkReadFullPageSetsCursor(t *testing.T) {
	p, mock := newSQLPlaneMock(t)
	id1 := schema.NewID()
	id2 := schema.NewID()

	rows := sqlmock.NewRows([]string{"id"}).
		AddRow(id1.String()).
		AddRow(id2.String())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `users` WHERE `id` > ? ORDER BY `id` ASC LIMIT ?")).
		WithArgs("", 2).
		WillReturnRows(rows)

	page, err := p.BulkRead(context.Background(), "users", "", 2)
	require.NoError(t, err)
	assert.False(t, page.Done())
	assert.Equal(t, Cursor(id2.String()), page.Next)
}

func TestSQLPlaneBulkReadClassifiesMissingTable(t *testing.T) {
	p, mock := newSQLPlaneMock(t)

	mock.ExpectQuery("SELECT \\* FROM").
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "no such table"})

	_, err := p.BulkRead(context.Background(), "ghost", "", 10)
	assert.True(t, IsKind(err, KindTableNotFound))
}

func TestSQLPlaneBulkWriteUpsert(t *testing.T) {
	p, mock := newSQLPlaneMock(t)
	id := schema.NewID()

	query := "INSERT INTO `users` (`email`, `id`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `email` = VALUES(`email`)"
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(query))
	prep.ExpectExec().
		WithArgs("a@example.com", id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := p.BulkWrite(context.Background(), "users", []schema.Record{
		{"id": id, "email": "a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaneBulkWriteClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		number uint16
		kind   Kind
	}{
		{"duplicate key", 1062, KindConstraintViolation},
		{"foreign key", 1452, KindConstraintViolation},
		{"access denied", 1142, KindPermissionDenied},
		{"too many connections", 1040, KindRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newSQLPlaneMock(t)
			id := schema.NewID()

			mock.ExpectBegin()
			prep := mock.ExpectPrepare("INSERT INTO")
			prep.ExpectExec().
				WillReturnError(&mysql.MySQLError{Number: tt.number, Message: tt.name})
			mock.ExpectRollback()

			_, err := p.BulkWrite(context.Background(), "users", []schema.Record{{"id": id}})
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestSQLPlaneDeleteAllKeepsSentinel(t *testing.T) {
	p, mock := newSQLPlaneMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users` WHERE `id` <> ?")).
		WithArgs(schema.ZeroID.String()).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := p.DeleteAll(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaneCount(t *testing.T) {
	p, mock := newSQLPlaneMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := p.Count(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestSQLPlaneExists(t *testing.T) {
	p, mock := newSQLPlaneMock(t)

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

	ok, err := p.Exists(context.Background(), "users")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Exists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLPlaneRejectsInvalidIdentifiers(t *testing.T) {
	p, _ := newSQLPlaneMock(t)

	_, err := p.Count(context.Background(), "users; DROP TABLE users")
	assert.True(t, IsKind(err, KindTableNotFound))
}

func TestSQLPlaneTruncateAndConstraints(t *testing.T) {
	p, mock := newSQLPlaneMock(t)

	mock.ExpectExec(regexp.QuoteMeta("SET FOREIGN_KEY_CHECKS = 0")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE `users`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET FOREIGN_KEY_CHECKS = 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, p.DisableConstraints(ctx))
	require.NoError(t, p.Truncate(ctx, "users"))
	require.NoError(t, p.EnableConstraints(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPlaneConstraintTogglePinsOneConnection(t *testing.T) {
	p, mock := newSQLPlaneMock(t)
	ctx := context.Background()

	// Two full cycles: the connection is pinned while checks are off and
	// released when they come back, so truncation never lands on a pooled
	// connection that still enforces foreign keys.
	for i := 0; i < 2; i++ {
		mock.ExpectExec(regexp.QuoteMeta("SET FOREIGN_KEY_CHECKS = 0")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("TRUNCATE TABLE `workout_logs`")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta("SET FOREIGN_KEY_CHECKS = 1")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, p.DisableConstraints(ctx))
		require.NotNil(t, p.recovery)
		require.NoError(t, p.Truncate(ctx, "workout_logs"))
		require.NoError(t, p.EnableConstraints(ctx))
		assert.Nil(t, p.recovery)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
