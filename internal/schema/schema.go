// Package schema declares the fixed LiftShift relational schema: the eight
// core tables, their outbound references, and the composite uniqueness rules
// the migration must preserve.
package schema

import "fmt"

// Core table names.
const (
	TableUsers               = "users"
	TableExercises           = "exercises"
	TablePrograms            = "programs"
	TableProgramWorkouts     = "program_workouts"
	TableProgramExercises    = "program_exercises"
	TableWorkoutLogs         = "workout_logs"
	TableWorkoutLogExercises = "workout_log_exercises"
	TableUserAnalytics       = "user_analytics"
)

// Reference declares an outbound foreign key from a table.
type Reference struct {
	Field    string // column holding the referenced id
	Target   string // referenced table
	Nullable bool
}

// Table describes one core table.
type Table struct {
	Name       string
	References []Reference
	// Unique lists composite uniqueness constraints beyond the primary key.
	// A row participates only when every nullable reference field named in
	// the key is non-null.
	Unique [][]string
}

// Tables is the full schema in declaration order. Declaration order is a
// valid dependency order, but callers should take the canonical order from
// the graph package rather than rely on it.
var Tables = []Table{
	{Name: TableUsers},
	{
		Name: TableExercises,
		References: []Reference{
			{Field: "created_by", Target: TableUsers, Nullable: true},
		},
	},
	{
		Name: TablePrograms,
		References: []Reference{
			{Field: "user_id", Target: TableUsers},
		},
	},
	{
		Name: TableProgramWorkouts,
		References: []Reference{
			{Field: "program_id", Target: TablePrograms},
		},
	},
	{
		Name: TableProgramExercises,
		References: []Reference{
			{Field: "workout_id", Target: TableProgramWorkouts},
			{Field: "exercise_id", Target: TableExercises},
		},
	},
	{
		Name: TableWorkoutLogs,
		References: []Reference{
			{Field: "user_id", Target: TableUsers},
			{Field: "program_id", Target: TablePrograms, Nullable: true},
		},
		Unique: [][]string{{"user_id", "program_id", "week_index", "day_index"}},
	},
	{
		Name: TableWorkoutLogExercises,
		References: []Reference{
			{Field: "workout_log_id", Target: TableWorkoutLogs},
			{Field: "exercise_id", Target: TableExercises},
		},
		Unique: [][]string{{"workout_log_id", "exercise_id"}},
	},
	{
		Name: TableUserAnalytics,
		References: []Reference{
			{Field: "user_id", Target: TableUsers},
			{Field: "exercise_id", Target: TableExercises},
		},
	},
}

// TableNames returns all core table names in declaration order.
func TableNames() []string {
	names := make([]string, len(Tables))
	for i, t := range Tables {
		names[i] = t.Name
	}
	return names
}

// Lookup returns the table declaration by name.
func Lookup(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// IsCoreTable reports whether name is one of the eight core tables.
func IsCoreTable(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// PlaceholderTables are the only tables for which placeholder parents may be
// synthesized under the create orphan policy.
var PlaceholderTables = map[string]bool{
	TableUsers:     true,
	TableExercises: true,
	TablePrograms:  true,
}

// Placeholder synthesizes a parent row with the given id and schema-default
// fields. Returns an error for tables outside PlaceholderTables.
func Placeholder(table string, id ID) (Record, error) {
	if !PlaceholderTables[table] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlaceholder, table)
	}
	rec := Record{
		"id":             id,
		"is_placeholder": true,
	}
	switch table {
	case TableUsers:
		rec["email"] = fmt.Sprintf("placeholder+%s@liftshift.invalid", id)
		rec["display_name"] = "Deleted user"
	case TableExercises:
		rec["name"] = "Unknown exercise"
		rec["created_by"] = nil
	case TablePrograms:
		rec["name"] = "Recovered program"
		rec["user_id"] = ZeroID
	}
	return rec, nil
}
