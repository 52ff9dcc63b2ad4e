package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/schema"
)

// fixture is the smallest interesting dataset: one user, one program
// referencing the user, one workout log referencing both.
type fixture struct {
	source    *plane.MemoryPlane
	userID    schema.ID
	programID schema.ID
	logID     schema.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source:    plane.NewMemoryPlane(),
		userID:    schema.NewID(),
		programID: schema.NewID(),
		logID:     schema.NewID(),
	}
	for _, table := range schema.TableNames() {
		f.source.CreateTable(table)
	}
	require.NoError(t, f.source.Seed("users",
		schema.Record{"id": f.userID, "email": "lifter@example.com"}))
	require.NoError(t, f.source.Seed("programs",
		schema.Record{"id": f.programID, "user_id": f.userID, "name": "5x5"}))
	require.NoError(t, f.source.Seed("workout_logs",
		schema.Record{"id": f.logID, "user_id": f.userID, "program_id": f.programID,
			"week_index": 1, "day_index": 1}))
	return f
}

func (f *fixture) breakProgramUser(t *testing.T) schema.ID {
	t.Helper()
	missing := schema.NewID()
	require.NoError(t, f.source.Seed("programs",
		schema.Record{"id": f.programID, "user_id": missing, "name": "5x5"}))
	return missing
}

func newResolver(t *testing.T, source plane.Plane) *Resolver {
	t.Helper()
	r, err := New(source, 10, nil)
	require.NoError(t, err)
	return r
}

func TestRunWarnCleanDataset(t *testing.T) {
	f := newFixture(t)
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyWarn)
	require.NoError(t, err)

	assert.Empty(t, res.Analysis.Violations)
	assert.Equal(t, 3, res.Dataset.TotalRows())
	assert.Equal(t, 0, res.Outcome.RecordsDropped)
	assert.Empty(t, res.Outcome.PlaceholdersCreated)
	assert.True(t, res.Validation.Clean())
}

func TestRunRemoveDropsTransitively(t *testing.T) {
	f := newFixture(t)
	f.breakProgramUser(t)
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyRemove)
	require.NoError(t, err)

	// The program is orphaned; the workout log loses its program and, since
	// program_id is nullable, survives with the reference nulled.
	assert.Equal(t, 1, res.Dataset.Len("users"))
	assert.Equal(t, 0, res.Dataset.Len("programs"))
	assert.Equal(t, 1, res.Outcome.DroppedByTable["programs"])
	assert.True(t, res.Validation.Clean())
}

func TestRunRemoveEmptiesRequiredChildren(t *testing.T) {
	f := newFixture(t)
	missingLog := schema.NewID()
	require.NoError(t, f.source.Seed("workout_log_exercises",
		schema.Record{"id": schema.NewID(), "workout_log_id": missingLog, "exercise_id": schema.NewID()}))
	f.breakProgramUser(t)
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyRemove)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Dataset.Len("workout_log_exercises"))
	assert.True(t, res.Validation.Clean())
}

func TestRunCreateSynthesizesPlaceholder(t *testing.T) {
	f := newFixture(t)
	missing := f.breakProgramUser(t)
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyCreate)
	require.NoError(t, err)

	// The real user, the placeholder user, the original program, the log.
	assert.Equal(t, 2, res.Dataset.Len("users"))
	assert.Equal(t, 1, res.Dataset.Len("programs"))
	assert.Equal(t, 1, res.Dataset.Len("workout_logs"))
	assert.Equal(t, 1, res.Outcome.PlaceholdersCreated["users"])

	placeholder, ok := res.Dataset.Get("users", missing)
	require.True(t, ok)
	assert.Equal(t, true, placeholder["is_placeholder"])
	assert.True(t, res.Validation.Clean())
}

func TestRunCreateIsIdempotentOnCleanData(t *testing.T) {
	f := newFixture(t)
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyCreate)
	require.NoError(t, err)

	// No phantom placeholders on a dataset that already satisfies all FKs.
	assert.Empty(t, res.Outcome.PlaceholdersCreated)
	assert.Equal(t, 3, res.Dataset.TotalRows())
}

func TestPlaceholderProgramBacksOntoSentinelUser(t *testing.T) {
	f := newFixture(t)
	missingProgram := schema.NewID()
	require.NoError(t, f.source.Seed("program_workouts",
		schema.Record{"id": schema.NewID(), "program_id": missingProgram}))
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyCreate)
	require.NoError(t, err)

	// The synthesized program needs a user; the sentinel slot backs it.
	prog, ok := res.Dataset.Get("programs", missingProgram)
	require.True(t, ok)
	owner, present, err := prog.Ref("user_id")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, schema.ZeroID, owner)
	assert.True(t, res.Dataset.Has("users", schema.ZeroID))
	assert.True(t, res.Validation.Clean())
}

func TestCreateFallsBackToWarnOutsidePlaceholderTables(t *testing.T) {
	f := newFixture(t)
	exerciseID := schema.NewID()
	require.NoError(t, f.source.Seed("exercises",
		schema.Record{"id": exerciseID, "name": "Squat"}))

	// workout_logs is outside the placeholder set, so a dangling
	// workout_log_id cannot be repaired by synthesis.
	entryID := schema.NewID()
	require.NoError(t, f.source.Seed("workout_log_exercises",
		schema.Record{"id": entryID, "workout_log_id": schema.NewID(), "exercise_id": exerciseID}))
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyCreate)
	require.NoError(t, err)

	// The record survives with its violation reported, exactly as warn
	// would leave it.
	assert.True(t, res.Dataset.Has("workout_log_exercises", entryID))
	assert.Empty(t, res.Outcome.PlaceholdersCreated["workout_logs"])
	assert.Equal(t, 1, res.Outcome.KeptWithViolation)
	require.Len(t, res.Outcome.Warnings, 1)
	assert.Contains(t, res.Outcome.Warnings[0], "record kept with violation")

	require.Len(t, res.Validation.Violations, 1)
	v := res.Validation.Violations[0]
	assert.Equal(t, "workout_log_exercises", v.Table)
	assert.Equal(t, "workout_log_id", v.Field)
	assert.True(t, res.Outcome.Accepted(v))
}

func TestCreateKeepsNullRequiredReference(t *testing.T) {
	f := newFixture(t)
	orphanID := schema.NewID()
	require.NoError(t, f.source.Seed("programs",
		schema.Record{"id": orphanID, "name": "headless"}))
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyCreate)
	require.NoError(t, err)

	// No id means nothing to synthesize; the record is kept as under warn.
	assert.True(t, res.Dataset.Has("programs", orphanID))
	assert.Empty(t, res.Outcome.PlaceholdersCreated)
	assert.Equal(t, 1, res.Outcome.KeptWithViolation)

	require.Len(t, res.Validation.Violations, 1)
	assert.Equal(t, RefNullAndRequired, res.Validation.Violations[0].Status)
}

func TestNullableBrokenRefIsNulledUnderEveryPolicy(t *testing.T) {
	for _, policy := range []Policy{PolicyWarn, PolicyRemove, PolicyCreate} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t)
			ghost := schema.NewID()
			exerciseID := schema.NewID()
			require.NoError(t, f.source.Seed("exercises",
				schema.Record{"id": exerciseID, "name": "Squat", "created_by": ghost}))
			r := newResolver(t, f.source)

			res, err := r.Run(context.Background(), policy)
			require.NoError(t, err)

			rec, ok := res.Dataset.Get("exercises", exerciseID)
			require.True(t, ok)
			_, present, err := rec.Ref("created_by")
			require.NoError(t, err)
			assert.False(t, present)
			assert.GreaterOrEqual(t, res.Outcome.RefsNulled, 1)
		})
	}
}

func TestWarnKeepsOrphansAndReportsThem(t *testing.T) {
	f := newFixture(t)
	f.breakProgramUser(t)
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyWarn)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dataset.Len("programs"))
	assert.Equal(t, 1, res.Outcome.KeptWithViolation)
	assert.False(t, res.Validation.Clean())

	require.Len(t, res.Analysis.Violations, 1)
	v := res.Analysis.Violations[0]
	assert.Equal(t, "programs", v.Table)
	assert.Equal(t, "user_id", v.Field)
	assert.Equal(t, RefDangling, v.Status)
}

func TestDuplicateCompositeKeysAreWarnedNotDropped(t *testing.T) {
	f := newFixture(t)
	exerciseID := schema.NewID()
	require.NoError(t, f.source.Seed("exercises",
		schema.Record{"id": exerciseID, "name": "Squat"}))
	// Two entries for the same exercise in the same workout log.
	require.NoError(t, f.source.Seed("workout_log_exercises",
		schema.Record{"id": schema.NewID(), "workout_log_id": f.logID, "exercise_id": exerciseID},
		schema.Record{"id": schema.NewID(), "workout_log_id": f.logID, "exercise_id": exerciseID}))
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyWarn)
	require.NoError(t, err)

	require.Len(t, res.Analysis.Duplicates, 1)
	dup := res.Analysis.Duplicates[0]
	assert.Equal(t, "workout_log_exercises", dup.Table)
	assert.Len(t, dup.Records, 2)
	// Duplicates are surfaced, never silently removed.
	assert.Equal(t, 2, res.Dataset.Len("workout_log_exercises"))
}

func TestWorkoutLogUniqueKeySkipsNullProgram(t *testing.T) {
	f := newFixture(t)
	// Two logs for the same slot but with null program_id: excluded from the
	// composite constraint.
	require.NoError(t, f.source.Seed("workout_logs",
		schema.Record{"id": schema.NewID(), "user_id": f.userID, "program_id": nil,
			"week_index": 1, "day_index": 1},
		schema.Record{"id": schema.NewID(), "user_id": f.userID, "program_id": nil,
			"week_index": 1, "day_index": 1}))
	r := newResolver(t, f.source)

	res, err := r.Run(context.Background(), PolicyWarn)
	require.NoError(t, err)
	assert.Empty(t, res.Analysis.Duplicates)
}

func TestEmptySourceTables(t *testing.T) {
	source := plane.NewMemoryPlane()
	for _, table := range schema.TableNames() {
		source.CreateTable(table)
	}
	r := newResolver(t, source)

	res, err := r.Run(context.Background(), PolicyCreate)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Dataset.TotalRows())
	assert.Empty(t, res.Outcome.PlaceholdersCreated)
	assert.True(t, res.Validation.Clean())
}

func TestMissingSourceTablesAreTreatedAsEmpty(t *testing.T) {
	source := plane.NewMemoryPlane()
	source.CreateTable("users")
	require.NoError(t, source.Seed("users", schema.Record{"id": schema.NewID()}))
	r := newResolver(t, source)

	ds, err := r.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ds.TotalRows())
	assert.Equal(t, 0, ds.Len("programs"))
}

func TestLoadAllPropagatesFatalErrors(t *testing.T) {
	f := newFixture(t)
	f.source.FailWith = func(op, table string) error {
		if op == "read" && table == "programs" {
			return plane.NewError(plane.KindPermissionDenied, table, nil)
		}
		return nil
	}
	r := newResolver(t, f.source)

	_, err := r.LoadAll(context.Background())
	assert.True(t, plane.IsKind(err, plane.KindPermissionDenied))
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	f := newFixture(t)
	f.breakProgramUser(t)
	r := newResolver(t, f.source)

	ds, err := r.LoadAll(context.Background())
	require.NoError(t, err)
	before := ds.Len("programs")

	_, _, err = r.Resolve(ds, PolicyRemove)
	require.NoError(t, err)
	assert.Equal(t, before, ds.Len("programs"))
}

func TestResolveRejectsUnknownPolicy(t *testing.T) {
	f := newFixture(t)
	r := newResolver(t, f.source)
	ds, err := r.LoadAll(context.Background())
	require.NoError(t, err)

	_, _, err = r.Resolve(ds, Policy("purge"))
	assert.Error(t, err)
	assert.False(t, ValidPolicy(Policy("purge")))
}

func TestDatasetCountsAndOrder(t *testing.T) {
	f := newFixture(t)
	r := newResolver(t, f.source)

	ds, err := r.LoadAll(context.Background())
	require.NoError(t, err)

	counts := ds.Counts()
	assert.Equal(t, int64(1), counts["users"])
	assert.Equal(t, int64(1), counts["programs"])
	assert.Equal(t, "users", ds.Tables()[0])
}
