package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/logger"
	"github.com/liftshift/liftshift/internal/plane"
)

// syncer periodically pulls source changes past a per-table id watermark and
// reapplies them to the target. The watermark catches inserts; in-place
// updates are reconciled by the verification count and spot checks.
type syncer struct {
	source   plane.Plane
	target   plane.Plane
	interval time.Duration
	pageSize int
	log      *logger.Logger

	mu         sync.Mutex
	watermarks map[string]plane.Cursor
	offsets    map[string]int64
	lag        int64

	cancel context.CancelFunc
	done   chan struct{}
}

func newSyncer(source, target plane.Plane, interval time.Duration, pageSize int, log *logger.Logger) *syncer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &syncer{
		source:     source,
		target:     target,
		interval:   interval,
		pageSize:   pageSize,
		log:        log,
		watermarks: make(map[string]plane.Cursor),
		offsets:    make(map[string]int64),
	}
}

// Prime positions each table's watermark at the current source head without
// writing anything, and records the steady-state count offset between the
// planes. Resolution can legitimately change row counts (dropped orphans,
// placeholders); the offset keeps those out of the lag metric.
func (s *syncer) Prime(ctx context.Context) error {
	for _, table := range graph.CoreLoadOrder() {
		cursor := plane.Cursor("")
		missing := false
		for {
			page, err := s.source.BulkRead(ctx, table, cursor, s.pageSize)
			if err != nil {
				if plane.IsKind(err, plane.KindTableNotFound) {
					missing = true
					break
				}
				return err
			}
			if len(page.Rows) == 0 {
				break
			}
			last, err := page.Rows[len(page.Rows)-1].PrimaryKey()
			if err != nil {
				return err
			}
			cursor = plane.Cursor(last.String())
			if page.Done() {
				break
			}
		}
		if missing {
			continue
		}

		src, err := s.source.Count(ctx, table)
		if err != nil {
			return err
		}
		tgt, err := s.target.Count(ctx, table)
		if err != nil && !plane.IsKind(err, plane.KindTableNotFound) {
			return err
		}

		s.mu.Lock()
		s.watermarks[table] = cursor
		s.offsets[table] = src - tgt
		s.mu.Unlock()
	}
	return nil
}

// Offset returns the count offset captured at prime time for a table.
func (s *syncer) Offset(table string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[table]
}

// Start launches the periodic sync loop.
func (s *syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)
	s.log.Infow("Incremental sync started", "interval", s.interval)
}

// Stop halts the loop and waits for it to exit. Safe to call twice.
func (s *syncer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Infow("Incremental sync stopped")
}

func (s *syncer) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warnw("Incremental sync tick failed", "error", err)
			}
		}
	}
}

// SyncOnce pulls changes past each table's watermark, writes them to the
// target, and recomputes the lag metric.
func (s *syncer) SyncOnce(ctx context.Context) (int64, error) {
	var applied int64
	for _, table := range graph.CoreLoadOrder() {
		n, err := s.syncTable(ctx, table)
		if err != nil {
			if plane.IsKind(err, plane.KindTableNotFound) {
				continue
			}
			return applied, err
		}
		applied += n
	}

	lag, err := s.computeLag(ctx)
	if err != nil {
		return applied, err
	}

	s.mu.Lock()
	s.lag = lag
	s.mu.Unlock()
	return applied, nil
}

func (s *syncer) syncTable(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	cursor := s.watermarks[table]
	s.mu.Unlock()

	var applied int64
	for {
		page, err := s.source.BulkRead(ctx, table, cursor, s.pageSize)
		if err != nil {
			return applied, err
		}
		if len(page.Rows) == 0 {
			break
		}

		outcome, err := s.target.BulkWrite(ctx, table, page.Rows)
		if err != nil {
			return applied, err
		}
		applied += int64(outcome.Written)

		// Advance the watermark only after the page landed on the target.
		last, err := page.Rows[len(page.Rows)-1].PrimaryKey()
		if err != nil {
			return applied, err
		}
		cursor = plane.Cursor(last.String())
		s.mu.Lock()
		s.watermarks[table] = cursor
		s.mu.Unlock()

		if page.Done() {
			break
		}
	}
	return applied, nil
}

// computeLag is the sum over tables of rows the source holds beyond the
// target.
func (s *syncer) computeLag(ctx context.Context) (int64, error) {
	var lag int64
	for _, table := range graph.CoreLoadOrder() {
		src, err := s.source.Count(ctx, table)
		if err != nil {
			if plane.IsKind(err, plane.KindTableNotFound) {
				continue
			}
			return 0, err
		}
		tgt, err := s.target.Count(ctx, table)
		if err != nil {
			return 0, err
		}
		if delta := src - tgt - s.Offset(table); delta > 0 {
			lag += delta
		}
	}
	return lag, nil
}

// Lag returns the last computed lag in rows.
func (s *syncer) Lag() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lag
}

// Drain syncs repeatedly until the lag reaches zero, bounded by a fixed
// number of rounds.
func (s *syncer) Drain(ctx context.Context) error {
	const maxRounds = 5
	for round := 0; round < maxRounds; round++ {
		if _, err := s.SyncOnce(ctx); err != nil {
			return err
		}
		if s.Lag() == 0 {
			return nil
		}
	}
	return fmt.Errorf("sync lag still %d rows after %d rounds", s.Lag(), maxRounds)
}
