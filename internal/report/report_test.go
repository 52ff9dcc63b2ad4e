package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftshift/liftshift/internal/tracker"
)

func TestTableAlignment(t *testing.T) {
	out := Table(
		[]string{"Table", "Rows"},
		[][]string{
			{"users", "1200"},
			{"workout_log_exercises", "7"},
		},
	)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Table"))
	assert.True(t, strings.HasPrefix(lines[1], "-----"))

	// Every row pads the first column to the widest cell.
	rowsCol := strings.Index(lines[0], "Rows")
	require.Greater(t, rowsCol, 0)
	assert.Equal(t, "1200", strings.TrimSpace(lines[2][rowsCol:]))
	assert.Equal(t, "7", strings.TrimSpace(lines[3][rowsCol:]))
}

func TestHeaderAndSection(t *testing.T) {
	h := Header("Migration Plan")
	lines := strings.Split(strings.TrimRight(h, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, lines[0], lines[2])
	assert.Contains(t, lines[1], "Migration Plan")

	s := Section("Configuration")
	assert.True(t, strings.HasPrefix(s, "[Configuration]"))
}

func TestStatusTextPlainFallbacks(t *testing.T) {
	// not_started carries no color escapes at all.
	assert.Equal(t, "not_started", StatusText(tracker.OverallNotStarted))
	assert.Contains(t, StatusText(tracker.OverallCompleted), "completed")
	assert.Contains(t, PhaseStatusText(tracker.PhaseFailed), "failed")
}

func TestPhaseReportFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, nil)
	require.NoError(t, err)
	w.now = func() time.Time {
		return time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	}

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	err = w.PhaseReport(tracker.PhaseInitialMigration, tracker.PhaseRecord{
		Status:      tracker.PhaseCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		Result:      map[string]any{"rows_written": 42},
		Warnings:    []string{"one orphan kept"},
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "reports", "initial_migration-2026-08-24T10-30-00Z.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "initial_migration", got["phase"])
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, float64(42), got["result"].(map[string]any)["rows_written"])
}

func TestSummaryFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, nil)
	require.NoError(t, err)

	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	done := started.Add(2 * time.Second)
	state := tracker.State{
		Overall:        tracker.OverallRolledBack,
		TrafficPercent: 0,
		StartedAt:      &started,
		UpdatedAt:      done,
		Phases: map[tracker.PhaseName]*tracker.PhaseRecord{
			tracker.PhasePreparation: {
				Status: tracker.PhaseCompleted, StartedAt: &started, CompletedAt: &done,
			},
			tracker.PhaseTrafficSwitching: {
				Status: tracker.PhaseFailed,
				Errors: []string{"error rate above threshold at 50%"},
			},
		},
		Checkpoints: []tracker.Checkpoint{
			{Phase: tracker.PhaseTrafficSwitching, Note: "traffic at 50%", At: done},
		},
	}
	require.NoError(t, w.Summary(state))

	data, err := os.ReadFile(filepath.Join(dir, "reports", SummaryFileName))
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "**rolled_back**")
	assert.Contains(t, text, "| preparation | completed |")
	assert.Contains(t, text, "ERROR: error rate above threshold")
	assert.Contains(t, text, "## Checkpoints")
	assert.Contains(t, text, "traffic at 50%")
}

func TestSummaryOverwritesPreviousRun(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, nil)
	require.NoError(t, err)

	require.NoError(t, w.Summary(tracker.State{Overall: tracker.OverallFailed}))
	require.NoError(t, w.Summary(tracker.State{Overall: tracker.OverallCompleted}))

	data, err := os.ReadFile(filepath.Join(dir, "reports", SummaryFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "**completed**")
	assert.NotContains(t, string(data), "**failed**")
}
