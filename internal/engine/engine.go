// Package engine is the top-level orchestrator. It executes the seven
// migration phases strictly in order, consults the monitor at observation
// points, and owns the emergency rollback path.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/liftshift/liftshift/internal/config"
	"github.com/liftshift/liftshift/internal/logger"
	"github.com/liftshift/liftshift/internal/monitor"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/resolver"
	"github.com/liftshift/liftshift/internal/rollback"
	"github.com/liftshift/liftshift/internal/tracker"
)

var (
	// ErrCancelled marks a phase failure caused by cancellation.
	ErrCancelled = errors.New("migration cancelled")
	// ErrCompoundFailure marks a failed migration whose rollback also failed.
	ErrCompoundFailure = errors.New("migration failed and rollback failed")

	// errUnhealthy marks a monitor-triggered abort during switching or
	// verification. It always routes through the emergency rollback path.
	errUnhealthy = errors.New("monitor reported unhealthy metrics")
)

// TrafficRouter moves live traffic between the planes. Monotonicity is not
// required; emergency rollback sets the percentage back to zero.
type TrafficRouter interface {
	SetTrafficPercentage(ctx context.Context, percent int) error
}

// RouterFunc adapts a function to the TrafficRouter interface.
type RouterFunc func(ctx context.Context, percent int) error

func (f RouterFunc) SetTrafficPercentage(ctx context.Context, percent int) error {
	return f(ctx, percent)
}

// Reporter receives the per-phase reports and the final summary. A nil
// Reporter disables reporting.
type Reporter interface {
	PhaseReport(phase tracker.PhaseName, record tracker.PhaseRecord) error
	Summary(state tracker.State) error
}

// Engine drives a migration end to end.
type Engine struct {
	cfg    *config.Config
	source plane.Plane
	target plane.Plane
	router TrafficRouter
	track  *tracker.Tracker
	mon    *monitor.Monitor
	rb     *rollback.Manager
	rep    Reporter
	log    *logger.Logger

	dataset *resolver.Dataset
	sync    *syncer
	traffic int
}

// New assembles an engine. router may be nil for plan-style dry runs; rep
// may be nil to disable report files.
func New(cfg *config.Config, source, target plane.Plane, router TrafficRouter,
	track *tracker.Tracker, mon *monitor.Monitor, rb *rollback.Manager,
	rep Reporter, log *logger.Logger) (*Engine, error) {

	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if source == nil || target == nil {
		return nil, fmt.Errorf("both planes are required")
	}
	if track == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if mon == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if rb == nil {
		return nil, fmt.Errorf("rollback manager is required")
	}
	if router == nil {
		router = RouterFunc(func(context.Context, int) error { return nil })
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		target: target,
		router: router,
		track:  track,
		mon:    mon,
		rb:     rb,
		rep:    rep,
		log:    log,
	}, nil
}

// Run executes the full phase sequence. The returned error is nil only when
// every phase completed; a successful rollback after a failure still returns
// the failure cause, with the tracker left at rolled_back.
func (e *Engine) Run(ctx context.Context) error {
	if phase, stuck := e.track.InProgressPhase(); stuck {
		return fmt.Errorf("phase %s was left in_progress by a previous run; inspect the status file before retrying", phase)
	}

	e.mon.Start(ctx)
	defer e.mon.Stop()
	defer e.stopSync()

	phases := []struct {
		name    tracker.PhaseName
		overall tracker.OverallStatus
		run     func(context.Context) (map[string]any, error)
	}{
		{tracker.PhasePreparation, tracker.OverallPreparing, e.runPreparation},
		{tracker.PhaseInitialMigration, tracker.OverallMigrating, e.runInitialMigration},
		{tracker.PhaseIncrementalSync, tracker.OverallMigrating, e.runIncrementalSync},
		{tracker.PhaseDeploymentPrep, tracker.OverallMigrating, e.runDeploymentPrep},
		{tracker.PhaseTrafficSwitching, tracker.OverallSwitching, e.runTrafficSwitching},
		{tracker.PhaseVerification, tracker.OverallSwitching, e.runVerification},
		{tracker.PhaseCleanup, tracker.OverallSwitching, e.runCleanup},
	}

	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			cause := fmt.Errorf("%w: before phase %s", ErrCancelled, phase.name)
			return e.abort(ctx, cause)
		}

		if err := e.track.SetOverall(phase.overall); err != nil {
			return err
		}
		if err := e.track.Start(phase.name); err != nil {
			return err
		}

		result, err := phase.run(ctx)
		if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		if err != nil {
			// Cleanup problems are reported, never fatal.
			if phase.name == tracker.PhaseCleanup {
				_ = e.track.AddWarning(phase.name, err.Error())
				if cerr := e.track.Complete(phase.name, result); cerr != nil {
					return cerr
				}
				e.reportPhase(phase.name)
				break
			}
			_ = e.track.Fail(phase.name, err)
			e.reportPhase(phase.name)
			return e.abort(ctx, err)
		}

		if err := e.track.Complete(phase.name, result); err != nil {
			return err
		}
		e.reportPhase(phase.name)
	}

	if err := e.track.SetOverall(tracker.OverallCompleted); err != nil {
		return err
	}
	e.reportSummary()
	e.log.Infow("Migration completed", "traffic_percent", e.traffic)
	return nil
}

// abort decides between plain failure and the emergency rollback path. Once
// any traffic has moved, or the monitor demanded a rollback, the target must
// be unwound before control returns.
func (e *Engine) abort(ctx context.Context, cause error) error {
	needRollback := e.traffic > 0 || errors.Is(cause, errUnhealthy)
	if !needRollback {
		_ = e.track.SetOverall(tracker.OverallFailed)
		e.reportSummary()
		return cause
	}

	if err := e.emergencyRollback(ctx); err != nil {
		_ = e.track.SetOverall(tracker.OverallUnrecoverable)
		e.reportSummary()
		return fmt.Errorf("%w: %v (rollback: %v)", ErrCompoundFailure, cause, err)
	}

	_ = e.track.SetOverall(tracker.OverallRolledBack)
	e.reportSummary()
	return cause
}

// emergencyRollback sets traffic to zero and runs a full rollback. It keeps
// running through cancellation: an interrupted rollback is worse than a slow
// one.
func (e *Engine) emergencyRollback(ctx context.Context) error {
	rbCtx := context.WithoutCancel(ctx)
	e.log.Warnw("Emergency rollback starting", "traffic_percent", e.traffic)

	e.stopSync()

	if err := e.router.SetTrafficPercentage(rbCtx, 0); err != nil {
		return fmt.Errorf("resetting traffic to 0: %w", err)
	}
	e.traffic = 0
	if err := e.track.SetTrafficPercent(0); err != nil {
		return err
	}

	report, err := e.rb.Execute(rbCtx, rollback.Options{
		Mode:     rollback.ModeFull,
		Snapshot: e.cfg.Rollback.CreateBackup,
	})
	if err != nil {
		return err
	}
	if !report.Success {
		return fmt.Errorf("rollback completed with failures (%d tables)", len(report.Tables))
	}

	e.log.Infow("Emergency rollback completed", "tables", len(report.Tables))
	return nil
}

func (e *Engine) stopSync() {
	if e.sync != nil {
		e.sync.Stop()
	}
}

func (e *Engine) reportPhase(phase tracker.PhaseName) {
	if e.rep == nil {
		return
	}
	if err := e.rep.PhaseReport(phase, e.track.Phase(phase)); err != nil {
		e.log.Warnw("Writing phase report failed", "phase", string(phase), "error", err)
	}
}

func (e *Engine) reportSummary() {
	if e.rep == nil {
		return
	}
	if err := e.rep.Summary(e.track.Snapshot()); err != nil {
		e.log.Warnw("Writing summary report failed", "error", err)
	}
}
