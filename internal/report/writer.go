// Package report renders migration results: one JSON report per phase, a
// final Markdown summary, and aligned console tables for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/liftshift/liftshift/internal/logger"
	"github.com/liftshift/liftshift/internal/tracker"
)

// fileTimestamp keeps filenames filesystem-safe on every platform.
const fileTimestamp = "2006-01-02T15-04-05Z"

// SummaryFileName is the final Markdown summary inside the reports dir.
const SummaryFileName = "migration-summary.md"

// Writer persists reports under <workingDir>/reports.
type Writer struct {
	dir string
	log *logger.Logger

	now func() time.Time
}

// NewWriter creates the reports directory if needed.
func NewWriter(workingDir string, log *logger.Logger) (*Writer, error) {
	if log == nil {
		log = logger.NewDefault()
	}
	dir := filepath.Join(workingDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating reports dir: %w", err)
	}
	return &Writer{dir: dir, log: log, now: time.Now}, nil
}

// phaseReport is the on-disk shape of a single phase report.
type phaseReport struct {
	Phase       tracker.PhaseName   `json:"phase"`
	Status      tracker.PhaseStatus `json:"status"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Result      map[string]any      `json:"result,omitempty"`
	Errors      []string            `json:"errors,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
	WrittenAt   time.Time           `json:"written_at"`
}

// PhaseReport writes one JSON report for a finished phase.
func (w *Writer) PhaseReport(phase tracker.PhaseName, record tracker.PhaseRecord) error {
	now := w.now().UTC()
	out := phaseReport{
		Phase:       phase,
		Status:      record.Status,
		StartedAt:   record.StartedAt,
		CompletedAt: record.CompletedAt,
		Result:      record.Result,
		Errors:      record.Errors,
		Warnings:    record.Warnings,
		WrittenAt:   now,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s report: %w", phase, err)
	}

	name := fmt.Sprintf("%s-%s.json", phase, now.Format(fileTimestamp))
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s report: %w", phase, err)
	}
	w.log.Debugw("Phase report written", "phase", string(phase), "file", path)
	return nil
}

// Summary writes the final Markdown summary of the whole run.
func (w *Writer) Summary(state tracker.State) error {
	path := filepath.Join(w.dir, SummaryFileName)
	if err := os.WriteFile(path, []byte(renderSummary(state)), 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	w.log.Infow("Migration summary written", "file", path)
	return nil
}

func renderSummary(state tracker.State) string {
	var b strings.Builder

	b.WriteString("# Migration summary\n\n")
	fmt.Fprintf(&b, "- Overall status: **%s**\n", state.Overall)
	fmt.Fprintf(&b, "- Traffic on target: %d%%\n", state.TrafficPercent)
	if state.StartedAt != nil {
		fmt.Fprintf(&b, "- Started: %s\n", state.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- Last update: %s\n\n", state.UpdatedAt.Format(time.RFC3339))

	b.WriteString("## Phases\n\n")
	b.WriteString("| Phase | Status | Duration | Errors | Warnings |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, phase := range tracker.PhaseOrder {
		rec := state.Phases[phase]
		if rec == nil {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d |\n",
			phase, rec.Status, phaseDuration(rec), len(rec.Errors), len(rec.Warnings))
	}

	for _, phase := range tracker.PhaseOrder {
		rec := state.Phases[phase]
		if rec == nil || (len(rec.Errors) == 0 && len(rec.Warnings) == 0 && len(rec.Result) == 0) {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", phase)
		for _, key := range sortedKeys(rec.Result) {
			fmt.Fprintf(&b, "- %s: %v\n", key, rec.Result[key])
		}
		for _, e := range rec.Errors {
			fmt.Fprintf(&b, "- ERROR: %s\n", e)
		}
		for _, warn := range rec.Warnings {
			fmt.Fprintf(&b, "- WARNING: %s\n", warn)
		}
	}

	if len(state.Checkpoints) > 0 {
		b.WriteString("\n## Checkpoints\n\n")
		for _, cp := range state.Checkpoints {
			fmt.Fprintf(&b, "- [%s] %s (%s)\n", cp.Phase, cp.Note, cp.At.Format(time.RFC3339))
		}
	}
	return b.String()
}

func phaseDuration(rec *tracker.PhaseRecord) string {
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		return "-"
	}
	return rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Millisecond).String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
