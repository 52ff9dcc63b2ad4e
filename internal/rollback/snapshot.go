package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/schema"
)

// snapshotTimestamp formats timestamps without colons so the snapshot
// directory name is valid on every filesystem.
const snapshotTimestamp = "2006-01-02T15-04-05Z"

// Snapshot writes a full snapshot of every core table without deleting
// anything. Used to arm rollback before the migration touches the target.
func (m *Manager) Snapshot(ctx context.Context) (string, error) {
	order := graph.CoreRollbackOrder()
	results := make([]TableResult, len(order))
	for i, table := range order {
		results[i] = TableResult{Table: table, State: StateQueued}
	}
	return m.snapshotAll(ctx, results)
}

// snapshotAll writes a JSON snapshot of each table before any deletion,
// moving its result to snapshotting while the table drains. A snapshot
// failure aborts the rollback: deleting rows that could not be preserved
// would make the run unrecoverable.
func (m *Manager) snapshotAll(ctx context.Context, results []TableResult) (string, error) {
	dir := filepath.Join(m.workingDir, "pre-rollback-"+time.Now().UTC().Format(snapshotTimestamp))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	m.log.Infow("Snapshotting target tables", "dir", dir, "tables", len(results))

	for i := range results {
		result := &results[i]
		result.State = StateSnapshotting

		file, rows, err := m.snapshotTable(ctx, dir, result.Table)
		if err != nil {
			if plane.IsKind(err, plane.KindTableNotFound) {
				m.log.Debugw("Skipping snapshot of missing table", "table", result.Table)
				continue
			}
			result.State = StateFailed
			result.Error = err.Error()
			return dir, fmt.Errorf("snapshotting %s: %w", result.Table, err)
		}
		result.SnapshotFile = file
		m.log.Infow("Snapshot written", "table", result.Table, "rows", rows, "file", file)
	}
	return dir, nil
}

// snapshotTable drains the table through paged reads into one JSON file.
func (m *Manager) snapshotTable(ctx context.Context, dir, table string) (string, int, error) {
	var rows []schema.Record
	cursor := plane.Cursor("")
	for {
		page, err := m.target.BulkRead(ctx, table, cursor, m.pageSize)
		if err != nil {
			return "", 0, err
		}
		rows = append(rows, page.Rows...)
		if page.Done() {
			break
		}
		cursor = page.Next
	}

	file := filepath.Join(dir, table+".json")
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", 0, err
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", 0, err
	}
	return file, len(rows), nil
}

// LoadSnapshot reads a table snapshot back into records, for restore tooling
// and tests.
func LoadSnapshot(file string) ([]schema.Record, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var rows []schema.Record
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", file, err)
	}
	return rows, nil
}
