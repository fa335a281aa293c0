package scheduler

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
)

const runsSchema = `
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    problem_name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    config TEXT NOT NULL,
    ansatz TEXT NOT NULL,
    best_exec INTEGER,
    best_assignment TEXT,
    best_penalized_cost REAL,
    best_raw_cost REAL,
    feasible INTEGER,
    baseline_cost REAL,
    baseline_source TEXT,
    gap REAL,
    error TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    started_at TEXT,
    finished_at TEXT
);
`

func setupRuns(t *testing.T) *hybrid.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(runsSchema)
	require.NoError(t, err)
	return hybrid.NewRepository(db, zerolog.Nop())
}

func storeRun(t *testing.T, repo *hybrid.Repository, id string, age time.Duration, fail bool) {
	t.Helper()
	a, err := ansatz.New(ansatz.FamilyTwoLocal, 2, 1, ansatz.EntanglementBilinear)
	require.NoError(t, err)
	cfg, err := hybrid.Config{}.Normalize()
	require.NoError(t, err)

	run := &hybrid.Run{
		ID:          id,
		ProblemName: "p",
		Status:      hybrid.StatusPending,
		Config:      cfg,
		Ansatz:      a,
		CreatedAt:   time.Now().UTC().Add(-age),
	}
	require.NoError(t, repo.CreateRun(run))
	if fail {
		require.NoError(t, repo.FailRun(id, errors.New("boom")))
	}
}

func TestHistoryCleanupPurgesOldFinishedRuns(t *testing.T) {
	repo := setupRuns(t)
	storeRun(t, repo, "old-failed", 40*24*time.Hour, true)
	storeRun(t, repo, "old-pending", 40*24*time.Hour, false)
	storeRun(t, repo, "fresh-failed", time.Hour, true)

	job := NewHistoryCleanupJob(repo, 30, zerolog.Nop())
	assert.Equal(t, "history_cleanup", job.Name())
	require.NoError(t, job.Run())

	gone, err := repo.GetRun("old-failed")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Unfinished runs survive regardless of age.
	kept, err := repo.GetRun("old-pending")
	require.NoError(t, err)
	require.NotNil(t, kept)

	fresh, err := repo.GetRun("fresh-failed")
	require.NoError(t, err)
	require.NotNil(t, fresh)
}

func TestHistoryCleanupDisabledRetention(t *testing.T) {
	repo := setupRuns(t)
	storeRun(t, repo, "ancient", 400*24*time.Hour, true)

	job := NewHistoryCleanupJob(repo, 0, zerolog.Nop())
	require.NoError(t, job.Run())

	kept, err := repo.GetRun("ancient")
	require.NoError(t, err)
	require.NotNil(t, kept)
}
