// Package monitor samples the health of the migration while traffic moves:
// error rate, response time, and source/target data consistency. It is
// strictly read-only; its samples feed the engine's rollback decision.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/liftshift/liftshift/internal/logger"
)

// Sample is one observation of system health.
type Sample struct {
	At                 time.Time `json:"at"`
	ErrorRatePercent   float64   `json:"error_rate_percent"`
	ResponseTimeMS     int       `json:"response_time_ms"`
	ConsistencyPercent float64   `json:"consistency_percent"`
	LastErrorCritical  bool      `json:"last_error_critical"`
	SyncLagRows        int64     `json:"sync_lag_rows"`
}

// Thresholds are the configured auto-rollback trigger levels.
type Thresholds struct {
	ErrorRatePercent   float64
	ResponseTimeMS     int
	ConsistencyPercent float64
}

// ShouldRollback reports whether the sample crosses any rollback trigger:
// error rate above threshold, response time above threshold, consistency
// below threshold, or a critical last error.
func (t Thresholds) ShouldRollback(s Sample) bool {
	if s.ErrorRatePercent > t.ErrorRatePercent {
		return true
	}
	if s.ResponseTimeMS > t.ResponseTimeMS {
		return true
	}
	if s.ConsistencyPercent < t.ConsistencyPercent {
		return true
	}
	return s.LastErrorCritical
}

// Source produces health samples. Implementations must be read-only with
// respect to both data planes.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (Sample, error)

func (f SourceFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// Monitor polls a Source on a fixed interval and publishes samples on a
// channel read by the engine at its observation points. It runs from the
// start of preparation until the end of cleanup.
type Monitor struct {
	source     Source
	thresholds Thresholds
	interval   time.Duration
	log        *logger.Logger

	mu      sync.Mutex
	latest  Sample
	hasData bool

	samples chan Sample
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor. interval defaults to five seconds.
func New(source Source, thresholds Thresholds, interval time.Duration, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		source:     source,
		thresholds: thresholds,
		interval:   interval,
		log:        log,
		samples:    make(chan Sample, 64),
	}
}

// Start launches the polling loop. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(runCtx)
	m.log.Infow("Monitor started", "interval", m.interval)
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Infow("Monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	sample, err := m.source.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Warnw("Monitor sample failed", "error", err)
		return
	}
	sample.At = time.Now().UTC()

	m.mu.Lock()
	m.latest = sample
	m.hasData = true
	m.mu.Unlock()

	// Drop the oldest sample rather than block the polling loop.
	select {
	case m.samples <- sample:
	default:
		select {
		case <-m.samples:
		default:
		}
		select {
		case m.samples <- sample:
		default:
		}
	}
}

// Samples exposes the sample stream for the engine's observation windows.
func (m *Monitor) Samples() <-chan Sample {
	return m.samples
}

// Latest returns the most recent sample, if any has been taken.
func (m *Monitor) Latest() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasData
}

// ShouldRollback applies the configured thresholds to a sample.
func (m *Monitor) ShouldRollback(s Sample) bool {
	return m.thresholds.ShouldRollback(s)
}

// Observe watches the sample stream for the given window. It returns the
// first sample that crosses a rollback threshold, or the last healthy
// sample seen, and whether rollback was triggered.
func (m *Monitor) Observe(ctx context.Context, window time.Duration) (Sample, bool, error) {
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	var last Sample
	if s, ok := m.Latest(); ok {
		if m.ShouldRollback(s) {
			return s, true, nil
		}
		last = s
	}

	for {
		select {
		case <-ctx.Done():
			return last, false, ctx.Err()
		case <-deadline.C:
			return last, false, nil
		case s := <-m.samples:
			if m.ShouldRollback(s) {
				m.log.Warnw("Unhealthy sample observed",
					"error_rate", s.ErrorRatePercent,
					"response_time_ms", s.ResponseTimeMS,
					"consistency", s.ConsistencyPercent,
					"critical", s.LastErrorCritical,
				)
				return s, true, nil
			}
			last = s
		}
	}
}
