package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/plane"
	"github.com/liftshift/liftshift/internal/resolver"
	"github.com/liftshift/liftshift/internal/schema"
	"github.com/liftshift/liftshift/internal/tracker"
)

// maxConstraintViolations bounds how many constraint errors a single phase
// absorbs before escalating to fatal.
const maxConstraintViolations = 10

// runPreparation validates reachability, checks the maintenance window cap,
// snapshots the target, and arms rollback.
func (e *Engine) runPreparation(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)

	counts := make(map[string]int64)
	var totalRows int64
	probeStart := time.Now()
	probes := 0
	for _, table := range graph.CoreLoadOrder() {
		count, err := e.source.Count(ctx, table)
		if err != nil {
			return result, fmt.Errorf("source table %s unreachable: %w", table, err)
		}
		counts[table] = count
		totalRows += count
		probes++

		ok, err := e.target.Exists(ctx, table)
		if err != nil {
			return result, fmt.Errorf("target plane unreachable: %w", err)
		}
		if !ok {
			if creator, can := e.target.(interface{ CreateTable(string) }); can {
				creator.CreateTable(table)
			} else {
				return result, fmt.Errorf("target table %s does not exist", table)
			}
		}
	}
	result["source_counts"] = counts
	result["total_rows"] = totalRows

	if e.cfg.Migration.Strategy == "maintenance-window" {
		if err := e.checkMaintenanceWindow(totalRows, time.Since(probeStart), probes); err != nil {
			return result, err
		}
	}

	if e.cfg.Rollback.CreateBackup {
		dir, err := e.rb.Snapshot(ctx)
		if err != nil {
			return result, fmt.Errorf("arming rollback snapshot: %w", err)
		}
		result["snapshot_dir"] = dir
	}

	e.log.Infow("Preparation complete", "total_rows", totalRows)
	return result, nil
}

// checkMaintenanceWindow projects the initial migration duration from the
// measured probe latency and fails preparation if it would exceed the
// configured downtime window.
func (e *Engine) checkMaintenanceWindow(totalRows int64, probeElapsed time.Duration, probes int) error {
	window := time.Duration(e.cfg.Migration.DowntimeWindowMS) * time.Millisecond
	if probes == 0 || totalRows == 0 {
		return nil
	}

	perOp := probeElapsed / time.Duration(probes)
	pages := totalRows/int64(e.cfg.Processing.PageSize) + 1
	// One read and one write round trip per page.
	estimate := perOp * time.Duration(pages) * 2
	if estimate > window {
		return fmt.Errorf("estimated migration time %s exceeds downtime window %s", estimate, window)
	}
	return nil
}

// runInitialMigration resolves the source dataset and writes it to the
// target in dependency order, verifying row counts afterwards.
func (e *Engine) runInitialMigration(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)
	phase := tracker.PhaseInitialMigration

	if e.cfg.Migration.MaintenanceMode {
		e.log.Warnw("Entering maintenance mode for initial migration")
		result["maintenance_mode"] = true
	}

	res, err := e.resolveSource(ctx)
	if err != nil {
		return result, err
	}
	e.dataset = res.Dataset

	result["violations"] = len(res.Analysis.Violations)
	result["duplicates"] = len(res.Analysis.Duplicates)
	result["records_dropped"] = res.Outcome.RecordsDropped
	result["placeholders_created"] = res.Outcome.PlaceholdersCreated
	result["refs_nulled"] = res.Outcome.RefsNulled
	for _, warning := range res.Outcome.Warnings {
		_ = e.track.AddWarning(phase, warning)
	}

	written, violations, err := e.writeDataset(ctx, phase)
	if err != nil {
		return result, err
	}
	result["rows_written"] = written
	result["constraint_violations"] = violations

	for _, table := range e.dataset.Tables() {
		want := int64(e.dataset.Len(table))
		if want == 0 {
			continue
		}
		got, err := e.countWithoutStraySentinel(ctx, table)
		if err != nil {
			return result, err
		}
		if got != want {
			return result, fmt.Errorf("row count mismatch on %s after migration: wrote %d, target has %d", table, want, got)
		}
	}

	e.log.Infow("Initial migration complete", "rows_written", written)
	return result, nil
}

func (e *Engine) resolveSource(ctx context.Context) (*resolver.Result, error) {
	r, err := resolver.New(e.source, e.cfg.Processing.PageSize, e.log)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, resolver.Policy(e.cfg.Migration.OrphanPolicy))
}

// writeDataset pushes the resolved dataset through the target plane. Tables
// go in dependency order; pages within a table carry no ordering
// requirement, so they fan out across the configured worker count.
// Constraint violations are counted, not fatal, until the per-phase
// threshold is crossed.
func (e *Engine) writeDataset(ctx context.Context, phase tracker.PhaseName) (int64, int, error) {
	pageSize := e.cfg.Processing.PageSize
	workers := e.cfg.Processing.Workers
	if workers < 1 {
		workers = 1
	}

	var written atomic.Int64
	var mu sync.Mutex
	violations := 0

	for _, table := range e.dataset.Tables() {
		records := e.dataset.Records(table)
		log := e.log.WithTable(table)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for start := 0; start < len(records); start += pageSize {
			page := records[start:min(start+pageSize, len(records))]
			g.Go(func() error {
				outcome, err := e.target.BulkWrite(gctx, table, page)
				if err != nil {
					if plane.IsKind(err, plane.KindConstraintViolation) {
						_ = e.track.AddError(phase, err.Error())
						mu.Lock()
						violations++
						over := violations > maxConstraintViolations
						mu.Unlock()
						if over {
							return fmt.Errorf("constraint violations exceeded threshold (%d): %w", maxConstraintViolations, err)
						}
						return nil
					}
					return err
				}
				if outcome.Written != len(page) {
					return fmt.Errorf("short write on %s: sent %d rows, wrote %d", table, len(page), outcome.Written)
				}
				written.Add(int64(outcome.Written))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return written.Load(), violations, err
		}

		log.Infow("Table migrated", "rows", len(records))
		_ = e.track.Checkpoint(phase, fmt.Sprintf("table %s written", table))
	}
	return written.Load(), violations, nil
}

// countWithoutStraySentinel counts target rows, discounting a sentinel slot
// that survived an earlier rollback without being part of the dataset.
func (e *Engine) countWithoutStraySentinel(ctx context.Context, table string) (int64, error) {
	count, err := e.target.Count(ctx, table)
	if err != nil {
		return 0, err
	}
	if e.dataset != nil && e.dataset.Has(table, schema.ZeroID) {
		return count, nil
	}
	_, sentinel, err := e.target.Lookup(ctx, table, schema.ZeroID)
	if err != nil {
		return 0, err
	}
	if sentinel {
		count--
	}
	return count, nil
}

// runIncrementalSync starts the periodic source-to-target change pull.
func (e *Engine) runIncrementalSync(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)

	if !e.cfg.Migration.EnableIncrementalSync {
		result["skipped"] = true
		e.log.Infow("Incremental sync disabled, skipping")
		return result, nil
	}

	interval := time.Duration(e.cfg.Migration.SyncIntervalMS) * time.Millisecond
	e.sync = newSyncer(e.source, e.target, interval, e.cfg.Processing.PageSize, e.log)

	// Position the watermarks at the source head so the loop only carries
	// changes made after the initial migration.
	if err := e.sync.Prime(ctx); err != nil {
		return result, fmt.Errorf("priming incremental sync: %w", err)
	}
	e.sync.Start(ctx)

	result["lag_rows"] = e.sync.Lag()
	return result, nil
}

// runDeploymentPrep runs pre-switch checks without accepting live traffic.
func (e *Engine) runDeploymentPrep(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)

	for _, table := range graph.CoreLoadOrder() {
		ok, err := e.target.Exists(ctx, table)
		if err != nil {
			return result, fmt.Errorf("pre-switch check on %s: %w", table, err)
		}
		if !ok {
			return result, fmt.Errorf("pre-switch check failed: target table %s missing", table)
		}
		// Warm the target before it sees traffic.
		if _, err := e.target.Count(ctx, table); err != nil {
			return result, fmt.Errorf("warm-up read on %s: %w", table, err)
		}
	}

	if err := e.router.SetTrafficPercentage(ctx, 0); err != nil {
		return result, fmt.Errorf("router pre-switch check: %w", err)
	}
	result["checks_passed"] = true
	e.log.Infow("Deployment prep complete, target warmed, no traffic switched")
	return result, nil
}

// runTrafficSwitching walks the configured percentage schedule, observing
// the monitor between steps. An unhealthy observation aborts the loop and
// routes to emergency rollback.
func (e *Engine) runTrafficSwitching(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)
	phase := tracker.PhaseTrafficSwitching

	steps := e.cfg.Migration.ProgressiveSteps
	window := time.Duration(e.cfg.Migration.StepObservationMS) * time.Millisecond
	if e.cfg.Migration.TrafficSwitching == "immediate" {
		steps = []int{100}
		window = time.Duration(e.cfg.Migration.RecoveryWindowMS) * time.Millisecond
	}

	var applied []int
	for _, pct := range steps {
		if pct <= e.traffic {
			continue
		}
		if err := e.router.SetTrafficPercentage(ctx, pct); err != nil {
			return result, fmt.Errorf("setting traffic to %d%%: %w", pct, err)
		}
		e.traffic = pct
		applied = append(applied, pct)
		if err := e.track.SetTrafficPercent(pct); err != nil {
			return result, err
		}
		_ = e.track.Checkpoint(phase, fmt.Sprintf("traffic at %d%%", pct))
		e.log.Infow("Traffic switched", "percent", pct)

		sample, triggered, err := e.mon.Observe(ctx, window)
		if err != nil {
			return result, err
		}
		if triggered {
			result["aborted_at_percent"] = pct
			return result, fmt.Errorf("%w at %d%%: error_rate=%.1f%% response_time=%dms consistency=%.1f%%",
				errUnhealthy, pct, sample.ErrorRatePercent, sample.ResponseTimeMS, sample.ConsistencyPercent)
		}
	}

	result["steps_applied"] = applied
	result["final_percent"] = e.traffic
	return result, nil
}

// runVerification requires zero sync lag, then checks dataset consistency
// and an extended stability window under full traffic.
func (e *Engine) runVerification(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)

	if e.sync != nil {
		if err := e.sync.Drain(ctx); err != nil {
			return result, fmt.Errorf("incremental sync lag is not zero: %w", err)
		}
		result["sync_lag_rows"] = int64(0)
	}

	verified := 0
	sampled := 0
	for _, table := range graph.CoreLoadOrder() {
		want, err := e.expectedCount(ctx, table)
		if err != nil {
			return result, err
		}
		// The sync offset already accounts for any sentinel slot, so raw
		// counts line up when sync is active.
		var got int64
		if e.sync != nil {
			got, err = e.target.Count(ctx, table)
		} else {
			got, err = e.countWithoutStraySentinel(ctx, table)
		}
		if err != nil {
			return result, err
		}
		if got != want {
			return result, fmt.Errorf("consistency check failed on %s: expected %d rows, target has %d", table, want, got)
		}
		verified++

		n, err := e.spotCheck(ctx, table)
		if err != nil {
			return result, err
		}
		sampled += n
	}
	result["tables_verified"] = verified
	result["rows_sampled"] = sampled

	window := time.Duration(e.cfg.Migration.RecoveryWindowMS) * time.Millisecond
	sample, triggered, err := e.mon.Observe(ctx, window)
	if err != nil {
		return result, err
	}
	if triggered {
		return result, fmt.Errorf("%w during stability observation: error_rate=%.1f%% consistency=%.1f%%",
			errUnhealthy, sample.ErrorRatePercent, sample.ConsistencyPercent)
	}

	e.log.Infow("Verification complete", "tables", verified, "rows_sampled", sampled)
	return result, nil
}

// expectedCount is the resolved dataset's row count when a migration ran in
// this process, the source count otherwise. With incremental sync active the
// source keeps moving, so the expectation is the live source count corrected
// by the offset resolution introduced.
func (e *Engine) expectedCount(ctx context.Context, table string) (int64, error) {
	if e.sync != nil {
		src, err := e.source.Count(ctx, table)
		if err != nil {
			return 0, err
		}
		return src - e.sync.Offset(table), nil
	}
	if e.dataset != nil {
		return int64(e.dataset.Len(table)), nil
	}
	return e.source.Count(ctx, table)
}

// spotCheck samples the head of the table and verifies each row exists on
// the target.
func (e *Engine) spotCheck(ctx context.Context, table string) (int, error) {
	const sampleSize = 20

	var ids []schema.ID
	if e.dataset != nil {
		all := e.dataset.IDs(table)
		if len(all) > sampleSize {
			all = all[:sampleSize]
		}
		ids = all
	} else {
		page, err := e.source.BulkRead(ctx, table, "", sampleSize)
		if err != nil {
			if plane.IsKind(err, plane.KindTableNotFound) {
				return 0, nil
			}
			return 0, err
		}
		for _, row := range page.Rows {
			id, err := row.PrimaryKey()
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		_, found, err := e.target.Lookup(ctx, table, id)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("spot check failed: %s row %s missing on target", table, id)
		}
	}
	return len(ids), nil
}

// runCleanup stops incremental sync and releases temporary resources.
// Failures here are demoted to warnings by the phase loop.
func (e *Engine) runCleanup(ctx context.Context) (map[string]any, error) {
	result := make(map[string]any)

	if e.sync != nil {
		lag := e.sync.Lag()
		e.sync.Stop()
		e.sync = nil
		result["final_sync_lag"] = lag
	}

	result["final_traffic_percent"] = e.traffic
	e.log.Infow("Cleanup complete", "traffic_percent", e.traffic)
	return result, ctx.Err()
}
