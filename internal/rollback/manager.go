// Package rollback returns the target plane to a defined pre-migration
// state: snapshot, delete in reverse dependency order, verify.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/logger"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/schema"
)

// Mode selects how much of the target is unwound.
type Mode string

const (
	// ModeFull deletes every row of every core table.
	ModeFull Mode = "full"
	// ModePartial deletes only a caller-specified subset of tables.
	ModePartial Mode = "partial"
	// ModeDataOnly behaves like full; it marks that schema is retained.
	ModeDataOnly Mode = "data-only"
	// ModeSchemaOnly deletes nothing; DDL must be unwound manually.
	ModeSchemaOnly Mode = "schema-only"
)

// ValidMode reports whether m is a known rollback mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeFull, ModePartial, ModeDataOnly, ModeSchemaOnly:
		return true
	}
	return false
}

// TableState tracks one table through the rollback pipeline.
type TableState string

const (
	StateQueued       TableState = "queued"
	StateSnapshotting TableState = "snapshotting"
	StateDeleting     TableState = "deleting"
	StateVerifying    TableState = "verifying"
	StateDone         TableState = "done"
	StateFailed       TableState = "failed"
	StateSkipped      TableState = "skipped"
)

// TableResult is the outcome for a single table.
type TableResult struct {
	Table        string     `json:"table"`
	State        TableState `json:"state"`
	RowsDeleted  int64      `json:"rows_deleted"`
	Remaining    int64      `json:"remaining"`
	SnapshotFile string     `json:"snapshot_file,omitempty"`
	Error        string     `json:"error,omitempty"`

	abortRemainder bool
}

// Report is the structured result of a rollback run.
type Report struct {
	Mode        Mode          `json:"mode"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	SnapshotDir string        `json:"snapshot_dir,omitempty"`
	Tables      []TableResult `json:"tables"`
	Warnings    []string      `json:"warnings,omitempty"`
	Aborted     bool          `json:"aborted"`
	Success     bool          `json:"success"`
}

// Options configure a rollback run.
type Options struct {
	Mode     Mode
	Tables   []string // table subset for partial mode
	Snapshot bool     // snapshot target tables before deletion
}

// Manager executes rollbacks against the target plane.
type Manager struct {
	target     plane.Plane
	workingDir string
	pageSize   int
	log        *logger.Logger
}

// NewManager creates a rollback manager. Snapshots land under workingDir.
func NewManager(target plane.Plane, workingDir string, pageSize int, log *logger.Logger) (*Manager, error) {
	if target == nil {
		return nil, fmt.Errorf("target plane is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Manager{
		target:     target,
		workingDir: workingDir,
		pageSize:   pageSize,
		log:        log,
	}, nil
}

// Execute runs a rollback per the options. Failure on one table continues
// with the remaining tables unless the error demands an abort
// (PermissionDenied, ConnectivityLost).
func (m *Manager) Execute(ctx context.Context, opts Options) (*Report, error) {
	if !ValidMode(opts.Mode) {
		return nil, fmt.Errorf("unknown rollback mode %q", opts.Mode)
	}

	report := &Report{
		Mode:      opts.Mode,
		StartedAt: time.Now().UTC(),
	}

	order, err := m.tableOrder(opts)
	if err != nil {
		return nil, err
	}

	if opts.Mode == ModeSchemaOnly {
		m.runSchemaOnly(order, report)
		m.finish(report)
		return report, nil
	}

	report.Tables = make([]TableResult, len(order))
	for i, table := range order {
		report.Tables[i] = TableResult{Table: table, State: StateQueued}
	}

	if opts.Snapshot {
		dir, err := m.snapshotAll(ctx, report.Tables)
		report.SnapshotDir = dir
		if err != nil {
			return report, err
		}
	}

	aborted := false
	for i := range report.Tables {
		result := &report.Tables[i]
		if aborted || ctx.Err() != nil {
			result.State = StateSkipped
			continue
		}

		m.rollbackTable(ctx, result, report)

		if result.State == StateFailed && result.abortRemainder {
			m.log.Errorw("Aborting rollback of remaining tables",
				"table", result.Table,
				"remaining", len(order)-i-1,
			)
			report.Aborted = true
			aborted = true
		}
	}

	m.finish(report)
	return report, nil
}

// tableOrder resolves the reverse dependency order, filtered to the subset
// for partial mode while preserving relative order.
func (m *Manager) tableOrder(opts Options) ([]string, error) {
	order := graph.CoreRollbackOrder()
	if opts.Mode != ModePartial {
		return order, nil
	}
	if len(opts.Tables) == 0 {
		return nil, fmt.Errorf("partial rollback requires a table subset")
	}

	subset := make(map[string]bool, len(opts.Tables))
	for _, table := range opts.Tables {
		if !schema.IsCoreTable(table) {
			return nil, fmt.Errorf("unknown table %q in partial rollback subset", table)
		}
		subset[table] = true
	}

	var filtered []string
	for _, table := range order {
		if subset[table] {
			filtered = append(filtered, table)
		}
	}
	return filtered, nil
}

// runSchemaOnly records one warning per table and touches no rows.
func (m *Manager) runSchemaOnly(order []string, report *Report) {
	for _, table := range order {
		warning := fmt.Sprintf("%s: schema-only rollback requires manual DDL intervention; rows untouched", table)
		report.Warnings = append(report.Warnings, warning)
		report.Tables = append(report.Tables, TableResult{Table: table, State: StateSkipped})
		m.log.Warnw("Schema-only rollback skipping table data", "table", table)
	}
}

// rollbackTable drives one table through delete and verify, mutating its
// result entry in place.
func (m *Manager) rollbackTable(ctx context.Context, result *TableResult, report *Report) {
	table := result.Table
	log := m.log.WithTable(table)

	result.State = StateDeleting
	deleted, err := m.target.DeleteAll(ctx, table)
	if err != nil {
		if plane.IsKind(err, plane.KindTableNotFound) {
			log.Debugw("Table missing on target, nothing to roll back")
			result.State = StateSkipped
			return
		}
		m.failTable(result, err)
		return
	}
	result.RowsDeleted = deleted
	log.Infow("Deleted rows", "rows", deleted)

	result.State = StateVerifying
	remaining, err := m.countExcludingSentinel(ctx, table)
	if err != nil {
		m.failTable(result, err)
		return
	}
	result.Remaining = remaining
	if remaining > 0 {
		// A non-empty table after a subset deletion is meaningful, not fatal.
		warning := fmt.Sprintf("%s: %d rows remain after rollback", table, remaining)
		report.Warnings = append(report.Warnings, warning)
		log.Warnw("Rows remain after rollback", "remaining", remaining)
	}

	result.State = StateDone
}

// countExcludingSentinel counts rows, not counting the reserved all-zero
// placeholder slot that DeleteAll intentionally preserves.
func (m *Manager) countExcludingSentinel(ctx context.Context, table string) (int64, error) {
	count, err := m.target.Count(ctx, table)
	if err != nil {
		return 0, err
	}
	_, sentinel, err := m.target.Lookup(ctx, table, schema.ZeroID)
	if err != nil {
		return 0, err
	}
	if sentinel {
		count--
	}
	return count, nil
}

func (m *Manager) failTable(result *TableResult, err error) {
	result.State = StateFailed
	result.Error = err.Error()
	result.abortRemainder = plane.Aborting(err)
	m.log.Errorw("Table rollback failed", "table", result.Table, "error", err)
}

func (m *Manager) finish(report *Report) {
	report.CompletedAt = time.Now().UTC()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	report.Success = !report.Aborted
	for _, t := range report.Tables {
		if t.State == StateFailed {
			report.Success = false
		}
	}

	m.log.Infow("Rollback finished",
		"mode", string(report.Mode),
		"tables", len(report.Tables),
		"warnings", len(report.Warnings),
		"success", report.Success,
	)
}
