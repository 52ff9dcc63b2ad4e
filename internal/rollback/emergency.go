package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/plane"
)

// ErrRecoveryNotConfirmed is returned when emergency recovery is invoked
// without the explicit confirmation flag.
var ErrRecoveryNotConfirmed = errors.New("emergency recovery requires explicit confirmation")

// ModeEmergency marks reports produced by EmergencyRecover. It is not a
// configurable rollback mode.
const ModeEmergency Mode = "emergency"

// EmergencyRecover wipes the target unconditionally: constraints off,
// truncate every core table (sentinel slots included), constraints back on.
// It is the last resort after a failed rollback and must be confirmed by the
// caller.
func (m *Manager) EmergencyRecover(ctx context.Context, confirmed bool) (*Report, error) {
	if !confirmed {
		return nil, ErrRecoveryNotConfirmed
	}
	rec, ok := m.target.(plane.Recoverer)
	if !ok {
		return nil, fmt.Errorf("target plane does not support emergency recovery")
	}

	report := &Report{
		Mode:      ModeEmergency,
		StartedAt: time.Now().UTC(),
	}
	m.log.Warnw("Emergency recovery starting, all target data will be destroyed")

	if err := rec.DisableConstraints(ctx); err != nil {
		return report, fmt.Errorf("disabling constraints: %w", err)
	}

	for _, table := range graph.CoreRollbackOrder() {
		result := TableResult{Table: table, State: StateDeleting}
		if err := rec.Truncate(ctx, table); err != nil {
			if plane.IsKind(err, plane.KindTableNotFound) {
				result.State = StateSkipped
			} else {
				result.State = StateFailed
				result.Error = err.Error()
				m.log.Errorw("Truncate failed", "table", table, "error", err)
			}
		} else {
			result.State = StateDone
			m.log.Infow("Table truncated", "table", table)
		}
		report.Tables = append(report.Tables, result)
	}

	// Constraints must come back even when some truncations failed.
	if err := rec.EnableConstraints(ctx); err != nil {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("re-enabling constraints failed: %v", err))
		m.log.Errorw("Re-enabling constraints failed", "error", err)
	}

	m.finish(report)
	return report, nil
}
