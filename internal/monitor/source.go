package monitor

import (
	"context"
	"time"

	"github.com/liftshift/liftshift/internal/graph"
	"github.com/liftshift/liftshift/internal/plane"
)

// PlaneSource derives a health sample by probing both data planes with
// count queries only. Consistency is the share of core tables whose source
// and target counts agree; response time is the slowest probe; error rate
// is the share of probes that failed.
type PlaneSource struct {
	source plane.Plane
	target plane.Plane
	tables []string
}

// NewPlaneSource builds a source probing every core table.
func NewPlaneSource(source, target plane.Plane) *PlaneSource {
	return &PlaneSource{
		source: source,
		target: target,
		tables: graph.CoreLoadOrder(),
	}
}

// Sample probes both planes once.
func (p *PlaneSource) Sample(ctx context.Context) (Sample, error) {
	var (
		probes   int
		failures int
		matched  int
		compared int
		worstMS  int
		critical bool
	)

	for _, table := range p.tables {
		srcCount, srcErr := p.timedCount(ctx, p.source, table, &worstMS)
		tgtCount, tgtErr := p.timedCount(ctx, p.target, table, &worstMS)
		probes += 2

		for _, err := range []error{srcErr, tgtErr} {
			if err == nil {
				continue
			}
			failures++
			if plane.IsKind(err, plane.KindPermissionDenied) {
				critical = true
			}
		}
		if srcErr != nil || tgtErr != nil {
			continue
		}
		compared++
		if srcCount == tgtCount {
			matched++
		}
	}

	sample := Sample{
		ResponseTimeMS:    worstMS,
		LastErrorCritical: critical,
	}
	if probes > 0 {
		sample.ErrorRatePercent = float64(failures) / float64(probes) * 100
	}
	if compared > 0 {
		sample.ConsistencyPercent = float64(matched) / float64(compared) * 100
	} else {
		sample.ConsistencyPercent = 0
	}
	return sample, nil
}

func (p *PlaneSource) timedCount(ctx context.Context, pl plane.Plane, table string, worstMS *int) (int64, error) {
	start := time.Now()
	count, err := pl.Count(ctx, table)
	elapsed := int(time.Since(start).Milliseconds())
	if elapsed > *worstMS {
		*worstMS = elapsed
	}
	return count, err
}
