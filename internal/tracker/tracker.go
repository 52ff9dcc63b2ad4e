// Package tracker is the single source of truth for migration progress: a
// durable, append-only record of phase transitions, per-phase results,
// errors, warnings, and checkpoints.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/liftshift/liftshift/internal/logger"
)

// PhaseName identifies one of the seven fixed migration phases.
type PhaseName string

const (
	PhasePreparation      PhaseName = "preparation"
	PhaseInitialMigration PhaseName = "initial_migration"
	PhaseIncrementalSync  PhaseName = "incremental_sync"
	PhaseDeploymentPrep   PhaseName = "deployment_prep"
	PhaseTrafficSwitching PhaseName = "traffic_switching"
	PhaseVerification     PhaseName = "verification"
	PhaseCleanup          PhaseName = "cleanup"
)

// PhaseOrder is the fixed execution order.
var PhaseOrder = []PhaseName{
	PhasePreparation,
	PhaseInitialMigration,
	PhaseIncrementalSync,
	PhaseDeploymentPrep,
	PhaseTrafficSwitching,
	PhaseVerification,
	PhaseCleanup,
}

// PhaseStatus is the lifecycle state of a single phase.
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not_started"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
)

// OverallStatus is the aggregate migration state.
type OverallStatus string

const (
	OverallNotStarted    OverallStatus = "not_started"
	OverallPreparing     OverallStatus = "preparing"
	OverallMigrating     OverallStatus = "migrating"
	OverallSwitching     OverallStatus = "switching"
	OverallCompleted     OverallStatus = "completed"
	OverallFailed        OverallStatus = "failed"
	OverallRolledBack    OverallStatus = "rolled_back"
	OverallUnrecoverable OverallStatus = "failed_and_unrecoverable"
)

// ErrInvalidPhaseTransition indicates a caller bug: a transition that the
// phase state machine does not allow. Never retried.
var ErrInvalidPhaseTransition = errors.New("invalid phase transition")

// ErrLocked is returned when another process holds the working directory.
var ErrLocked = errors.New("working directory is locked by another migration")

// PhaseRecord is the durable record of one phase.
type PhaseRecord struct {
	Status      PhaseStatus    `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Checkpoint marks a recoverable position inside a phase.
type Checkpoint struct {
	Phase PhaseName `json:"phase"`
	Note  string    `json:"note"`
	At    time.Time `json:"at"`
}

// State is the full persisted tracker state.
type State struct {
	Overall        OverallStatus              `json:"overall_status"`
	TrafficPercent int                        `json:"traffic_percent"`
	Phases         map[PhaseName]*PhaseRecord `json:"phases"`
	Checkpoints    []Checkpoint               `json:"checkpoints,omitempty"`
	StartedAt      *time.Time                 `json:"started_at,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// StatusFileName is the tracker's durable record inside the working dir.
const StatusFileName = "migration-status.json"

// Tracker owns the on-disk status file. Every transition is flushed before
// the mutating call returns. A file lock on the working directory keeps the
// tracker single-writer per host.
type Tracker struct {
	mu    sync.Mutex
	path  string
	lock  *flock.Flock
	state *State
	log   *logger.Logger
}

// Open creates or resumes a tracker in workingDir. It fails with ErrLocked
// when another process already owns the directory.
func Open(workingDir string, log *logger.Logger) (*Tracker, error) {
	if log == nil {
		log = logger.NewDefault()
	}
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating working dir: %w", err)
	}

	lock := flock.New(filepath.Join(workingDir, "migration.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring working dir lock: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	t := &Tracker{
		path: filepath.Join(workingDir, StatusFileName),
		lock: lock,
		log:  log,
	}

	state, err := loadState(t.path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	t.state = state
	return t, nil
}

// loadState reads the last durable state, or initializes a fresh one.
func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return freshState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing status file: %w", err)
	}
	if state.Phases == nil {
		state.Phases = make(map[PhaseName]*PhaseRecord)
	}
	for _, phase := range PhaseOrder {
		if state.Phases[phase] == nil {
			state.Phases[phase] = &PhaseRecord{Status: PhaseNotStarted}
		}
	}
	return &state, nil
}

func freshState() *State {
	state := &State{
		Overall: OverallNotStarted,
		Phases:  make(map[PhaseName]*PhaseRecord, len(PhaseOrder)),
	}
	for _, phase := range PhaseOrder {
		state.Phases[phase] = &PhaseRecord{Status: PhaseNotStarted}
	}
	return state
}

// Close releases the working directory lock.
func (t *Tracker) Close() error {
	return t.lock.Unlock()
}

// flush writes the state durably: temp file, sync, atomic rename.
func (t *Tracker) flush() error {
	t.state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	tmp := t.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing status file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing status file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}

// Start transitions a phase from not_started to in_progress.
func (t *Tracker) Start(phase PhaseName) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Phases[phase]
	if !ok {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidPhaseTransition, phase)
	}
	if rec.Status != PhaseNotStarted {
		return fmt.Errorf("%w: cannot start phase %s from %s", ErrInvalidPhaseTransition, phase, rec.Status)
	}

	now := time.Now().UTC()
	rec.Status = PhaseInProgress
	rec.StartedAt = &now
	if t.state.StartedAt == nil {
		t.state.StartedAt = &now
	}
	t.log.Infow("Phase started", "phase", string(phase))
	return t.flush()
}

// Complete transitions a phase from in_progress to completed, attaching the
// per-phase result map.
func (t *Tracker) Complete(phase PhaseName, result map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Phases[phase]
	if !ok {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidPhaseTransition, phase)
	}
	if rec.Status != PhaseInProgress {
		return fmt.Errorf("%w: cannot complete phase %s from %s", ErrInvalidPhaseTransition, phase, rec.Status)
	}

	now := time.Now().UTC()
	rec.Status = PhaseCompleted
	rec.CompletedAt = &now
	rec.Result = result
	t.log.Infow("Phase completed", "phase", string(phase))
	return t.flush()
}

// Fail transitions a phase from in_progress to failed, recording the error.
func (t *Tracker) Fail(phase PhaseName, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Phases[phase]
	if !ok {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidPhaseTransition, phase)
	}
	if rec.Status != PhaseInProgress {
		return fmt.Errorf("%w: cannot fail phase %s from %s", ErrInvalidPhaseTransition, phase, rec.Status)
	}

	now := time.Now().UTC()
	rec.Status = PhaseFailed
	rec.CompletedAt = &now
	if cause != nil {
		rec.Errors = append(rec.Errors, cause.Error())
	}
	t.log.Errorw("Phase failed", "phase", string(phase), "error", cause)
	return t.flush()
}

// AddWarning records a warning scoped to a phase.
func (t *Tracker) AddWarning(phase PhaseName, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Phases[phase]
	if !ok {
		return fmt.Errorf("unknown phase %q", phase)
	}
	rec.Warnings = append(rec.Warnings, msg)
	return t.flush()
}

// AddError records a non-fatal error scoped to a phase without failing it.
func (t *Tracker) AddError(phase PhaseName, msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Phases[phase]
	if !ok {
		return fmt.Errorf("unknown phase %q", phase)
	}
	rec.Errors = append(rec.Errors, msg)
	return t.flush()
}

// Checkpoint appends a recoverable position marker.
func (t *Tracker) Checkpoint(phase PhaseName, note string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Checkpoints = append(t.state.Checkpoints, Checkpoint{
		Phase: phase,
		Note:  note,
		At:    time.Now().UTC(),
	})
	return t.flush()
}

// SetOverall updates the aggregate migration status.
func (t *Tracker) SetOverall(status OverallStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Overall = status
	return t.flush()
}

// SetTrafficPercent records the current traffic percentage.
func (t *Tracker) SetTrafficPercent(pct int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TrafficPercent = pct
	return t.flush()
}

// Phase returns a copy of a phase's record.
func (t *Tracker) Phase(phase PhaseName) PhaseRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.state.Phases[phase]
	if !ok {
		return PhaseRecord{Status: PhaseNotStarted}
	}
	out := *rec
	out.Errors = append([]string(nil), rec.Errors...)
	out.Warnings = append([]string(nil), rec.Warnings...)
	return out
}

// Overall returns the aggregate migration status.
func (t *Tracker) Overall() OverallStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Overall
}

// TrafficPercent returns the recorded traffic percentage.
func (t *Tracker) TrafficPercent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.TrafficPercent
}

// InProgressPhase reports the phase left in_progress by a previous run, if
// any. The caller decides whether to resume or fail.
func (t *Tracker) InProgressPhase() (PhaseName, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, phase := range PhaseOrder {
		if t.state.Phases[phase].Status == PhaseInProgress {
			return phase, true
		}
	}
	return "", false
}

// Snapshot returns a deep copy of the full state for reporting.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := State{
		Overall:        t.state.Overall,
		TrafficPercent: t.state.TrafficPercent,
		Phases:         make(map[PhaseName]*PhaseRecord, len(t.state.Phases)),
		Checkpoints:    append([]Checkpoint(nil), t.state.Checkpoints...),
		StartedAt:      t.state.StartedAt,
		UpdatedAt:      t.state.UpdatedAt,
	}
	for name, rec := range t.state.Phases {
		cp := *rec
		cp.Errors = append([]string(nil), rec.Errors...)
		cp.Warnings = append([]string(nil), rec.Warnings...)
		out.Phases[name] = &cp
	}
	return out
}
