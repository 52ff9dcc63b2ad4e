package rollback

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/schema"
)

func seededTarget(t *testing.T) *plane.MemoryPlane {
	t.Helper()
	target := plane.NewMemoryPlane()
	for _, table := range graph.CoreLoadOrder() {
		target.CreateTable(table)
	}
	userID := schema.NewID()
	programID := schema.NewID()
	require.NoError(t, target.Seed("users", schema.Record{"id": userID}))
	require.NoError(t, target.Seed("programs", schema.Record{"id": programID, "user_id": userID}))
	require.NoError(t, target.Seed("workout_logs",
		schema.Record{"id": schema.NewID(), "user_id": userID, "program_id": programID}))
	return target
}

func newTestManager(t *testing.T, target plane.Plane) *Manager {
	t.Helper()
	m, err := NewManager(target, t.TempDir(), 10, nil)
	require.NoError(t, err)
	return m
}

func TestFullRollbackZeroesEveryTable(t *testing.T) {
	target := seededTarget(t)
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.False(t, report.Aborted)
	assert.Len(t, report.Tables, 8)

	for _, table := range graph.CoreLoadOrder() {
		count, err := target.Count(ctx, table)
		require.NoError(t, err)
		assert.Zero(t, count, table)
	}
}

func TestFullRollbackPreservesSentinelSlot(t *testing.T) {
	target := seededTarget(t)
	require.NoError(t, target.Seed("users", schema.Record{"id": schema.ZeroID}))
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.True(t, report.Success)
	// The sentinel stays, and its slot is not reported as a leftover row.
	assert.Empty(t, report.Warnings)

	_, found, err := target.Lookup(ctx, "users", schema.ZeroID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestPartialRollbackTouchesOnlySubset(t *testing.T) {
	target := seededTarget(t)
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModePartial, Tables: []string{"workout_logs", "programs"}})
	require.NoError(t, err)
	assert.True(t, report.Success)
	require.Len(t, report.Tables, 2)
	// Reverse dependency order: children before parents.
	assert.Equal(t, "workout_logs", report.Tables[0].Table)
	assert.Equal(t, "programs", report.Tables[1].Table)

	users, err := target.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), users)
	programs, err := target.Count(ctx, "programs")
	require.NoError(t, err)
	assert.Zero(t, programs)
}

func TestPartialRollbackRejectsBadSubset(t *testing.T) {
	m := newTestManager(t, seededTarget(t))
	ctx := context.Background()

	_, err := m.Execute(ctx, Options{Mode: ModePartial})
	assert.Error(t, err)

	_, err = m.Execute(ctx, Options{Mode: ModePartial, Tables: []string{"sessions"}})
	assert.Error(t, err)
}

func TestExecuteRejectsUnknownMode(t *testing.T) {
	m := newTestManager(t, seededTarget(t))
	_, err := m.Execute(context.Background(), Options{Mode: Mode("undo")})
	assert.Error(t, err)
	assert.False(t, ValidMode(Mode("undo")))
}

func TestSchemaOnlyWarnsAndLeavesRows(t *testing.T) {
	target := seededTarget(t)
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModeSchemaOnly})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Len(t, report.Warnings, 8)
	for _, tr := range report.Tables {
		assert.Equal(t, StateSkipped, tr.State)
	}

	count, err := target.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAbortingErrorSkipsRemainingTables(t *testing.T) {
	target := seededTarget(t)
	target.FailWith = func(op, table string) error {
		if op == "delete" && table == "workout_logs" {
			return plane.NewError(plane.KindPermissionDenied, table, nil)
		}
		return nil
	}
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.True(t, report.Aborted)

	states := make(map[string]TableState)
	for _, tr := range report.Tables {
		states[tr.Table] = tr.State
	}
	assert.Equal(t, StateFailed, states["workout_logs"])
	// Tables ordered after the failure are never touched.
	assert.Equal(t, StateSkipped, states["programs"])
	assert.Equal(t, StateSkipped, states["users"])

	programs, err := target.Count(ctx, "programs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), programs)
}

func TestDataErrorContinuesWithRemainingTables(t *testing.T) {
	target := seededTarget(t)
	target.FailWith = func(op, table string) error {
		if op == "delete" && table == "workout_logs" {
			return plane.NewError(plane.KindConstraintViolation, table, nil)
		}
		return nil
	}
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModeFull})
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.False(t, report.Aborted)

	// The failure does not stop the parents from being rolled back.
	users, err := target.Count(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, users)
}

func TestSnapshotRoundTrip(t *testing.T) {
	target := seededTarget(t)
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.Execute(ctx, Options{Mode: ModeFull, Snapshot: true})
	require.NoError(t, err)
	assert.True(t, report.Success)
	require.NotEmpty(t, report.SnapshotDir)

	var usersFile string
	for _, tr := range report.Tables {
		if tr.Table == "users" {
			usersFile = tr.SnapshotFile
		}
	}
	require.NotEmpty(t, usersFile)
	assert.Equal(t, filepath.Join(report.SnapshotDir, "users.json"), usersFile)

	rows, err := LoadSnapshot(usersFile)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// The snapshot preserves what the rollback then deletes.
	count, err := target.Count(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSnapshotFailureAbortsBeforeDeleting(t *testing.T) {
	target := seededTarget(t)
	target.FailWith = func(op, table string) error {
		if op == "read" && table == "users" {
			return plane.NewError(plane.KindConnectivityLost, table, nil)
		}
		return nil
	}
	m := newTestManager(t, target)
	ctx := context.Background()

	_, err := m.Execute(ctx, Options{Mode: ModeFull, Snapshot: true})
	require.Error(t, err)

	// Nothing was deleted.
	count, err := target.Count(ctx, "programs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSnapshotProgressIsTrackedPerTable(t *testing.T) {
	target := seededTarget(t)
	// users is last in reverse dependency order, so every other table has
	// already been snapshotted when its read fails.
	target.FailWith = func(op, table string) error {
		if op == "read" && table == "users" {
			return plane.NewError(plane.KindConnectivityLost, table, nil)
		}
		return nil
	}
	m := newTestManager(t, target)

	report, err := m.Execute(context.Background(), Options{Mode: ModeFull, Snapshot: true})
	require.Error(t, err)
	require.Len(t, report.Tables, 8)

	results := make(map[string]TableResult)
	for _, tr := range report.Tables {
		results[tr.Table] = tr
	}
	assert.Equal(t, StateFailed, results["users"].State)
	assert.NotEmpty(t, results["users"].Error)

	// Tables snapshotted before the failure carry their file and never
	// advanced past the snapshot stage.
	assert.Equal(t, StateSnapshotting, results["workout_logs"].State)
	assert.NotEmpty(t, results["workout_logs"].SnapshotFile)

	count, err := target.Count(context.Background(), "workout_logs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStandaloneSnapshotDeletesNothing(t *testing.T) {
	target := seededTarget(t)
	m := newTestManager(t, target)
	ctx := context.Background()

	dir, err := m.Snapshot(ctx)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 8)

	count, err := target.Count(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEmergencyRecoverRequiresConfirmation(t *testing.T) {
	m := newTestManager(t, seededTarget(t))

	_, err := m.EmergencyRecover(context.Background(), false)
	assert.ErrorIs(t, err, ErrRecoveryNotConfirmed)
}

func TestEmergencyRecoverTruncatesEverything(t *testing.T) {
	target := seededTarget(t)
	require.NoError(t, target.Seed("users", schema.Record{"id": schema.ZeroID}))
	m := newTestManager(t, target)
	ctx := context.Background()

	report, err := m.EmergencyRecover(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, ModeEmergency, report.Mode)

	// Unlike DeleteAll, truncation removes the sentinel slot too.
	count, err := target.Count(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEmergencyRecoverRequiresRecoverer(t *testing.T) {
	resilient := plane.NewResilient(seededTarget(t), plane.DefaultRetryPolicy())
	m := newTestManager(t, resilient)

	_, err := m.EmergencyRecover(context.Background(), true)
	assert.Error(t, err)
}
