package hybrid

import (
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

const testSchema = `
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
CREATE TABLE iterations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    exec INTEGER NOT NULL,
    epoch INTEGER NOT NULL,
    cost REAL NOT NULL,
    best_cost REAL NOT NULL,
    best_assignment TEXT NOT NULL,
    theta BLOB NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(run_id, exec, epoch)
);
CREATE TABLE exec_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    exec INTEGER NOT NULL,
    seed INTEGER NOT NULL,
    converged INTEGER NOT NULL,
    reason TEXT NOT NULL,
    best_assignment TEXT,
    best_penalized_cost REAL,
    best_raw_cost REAL,
    feasible INTEGER NOT NULL,
    refined INTEGER NOT NULL,
    evaluations INTEGER NOT NULL,
    skipped_fits INTEGER NOT NULL,
    final_theta BLOB,
    UNIQUE(run_id, exec)
);
`

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return NewRepository(db, zerolog.Nop())
}

func testRun(id string) *Run {
	a, _ := ansatz.New(ansatz.FamilyTwoLocal, 3, 1, ansatz.EntanglementBilinear)
	cfg, _ := Config{}.Normalize()
	return &Run{
		ID:          id,
		ProblemName: "pick-two",
		Status:      StatusPending,
		Config:      cfg,
		Ansatz:      a,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestRepositoryRunLifecycle(t *testing.T) {
	repo := setupRepo(t)
	run := testRun("run-1")
	require.NoError(t, repo.CreateRun(run))

	got, err := repo.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "pick-two", got.ProblemName)
	assert.Equal(t, run.Config.Shots, got.Config.Shots)
	assert.Equal(t, run.Ansatz.Qubits, got.Ansatz.Qubits)
	assert.Nil(t, got.BestCost)

	require.NoError(t, repo.MarkRunning("run-1"))
	got, err = repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	baseline := -6.0
	gap := 0.1
	out := &Outcome{
		BestExec:          1,
		BestAssignment:    problem.Assignment{0, 1, 1},
		BestPenalizedCost: -5.4,
		BestRawCost:       -5.4,
		Feasible:          true,
	}
	require.NoError(t, repo.CompleteRun("run-1", out, &baseline, "solver", &gap))

	got, err = repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.BestExec)
	assert.Equal(t, 1, *got.BestExec)
	assert.Equal(t, problem.Assignment{0, 1, 1}, got.BestAssignment)
	require.NotNil(t, got.BestCost)
	assert.Equal(t, -5.4, *got.BestCost)
	require.NotNil(t, got.Feasible)
	assert.True(t, *got.Feasible)
	require.NotNil(t, got.Gap)
	assert.Equal(t, 0.1, *got.Gap)
	assert.Equal(t, "solver", got.BaselineSource)
	assert.NotNil(t, got.FinishedAt)
}

func TestRepositoryFailRun(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.CreateRun(testRun("run-err")))
	require.NoError(t, repo.FailRun("run-err", errors.New("sampling oracle timed out after 5m0s during epoch 2")))

	got, err := repo.GetRun("run-err")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "timed out")
}

func TestRepositoryGetRunMissing(t *testing.T) {
	repo := setupRepo(t)
	got, err := repo.GetRun("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepositoryIterationsRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.CreateRun(testRun("run-2")))

	recs := []IterationRecord{
		{Epoch: 1, Theta: []float64{0.1, 0.2, 0.3}, Cost: 2.5, BestAssignment: problem.Assignment{1, 0, 1}, BestCost: 1.0, Duration: 120 * time.Millisecond},
		{Epoch: 2, Theta: []float64{0.4, 0.5, 0.6}, Cost: 1.5, BestAssignment: problem.Assignment{0, 1, 1}, BestCost: 0.5, Duration: 90 * time.Millisecond},
	}
	for _, rec := range recs {
		require.NoError(t, repo.SaveIteration("run-2", 0, rec))
	}

	got, err := repo.GetIterations("run-2", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0].Theta, got[0].Theta)
	assert.Equal(t, recs[1].BestAssignment, got[1].BestAssignment)
	assert.Equal(t, 120*time.Millisecond, got[0].Duration)

	// Duplicate epoch for the same exec violates the history uniqueness.
	require.Error(t, repo.SaveIteration("run-2", 0, recs[0]))
}

func TestRepositoryExportRecordSchema(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.CreateRun(testRun("run-3")))
	require.NoError(t, repo.SaveIteration("run-3", 0, IterationRecord{
		Epoch:          1,
		Theta:          []float64{1.5, -0.5},
		Cost:           -3.25,
		BestAssignment: problem.Assignment{1, 1, 0},
		BestCost:       -4.0,
	}))

	records, err := repo.ExportRecords("run-3", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	raw, err := json.Marshal(records[0])
	require.NoError(t, err)

	// The external schema is frozen: exactly these four keys with these types.
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded, 4)
	for _, key := range []string{"parameters", "assignment", "cost", "epoch"} {
		assert.Contains(t, decoded, key)
	}
	assert.JSONEq(t, `[1.5,-0.5]`, string(decoded["parameters"]))
	assert.JSONEq(t, `[1,1,0]`, string(decoded["assignment"]))
}

func TestRepositoryExecResults(t *testing.T) {
	repo := setupRepo(t)
	require.NoError(t, repo.CreateRun(testRun("run-4")))
	require.NoError(t, repo.SaveExecResult("run-4", ExecResult{
		Exec:              0,
		Seed:              42,
		Converged:         true,
		Reason:            "threshold",
		BestAssignment:    problem.Assignment{1, 0, 1},
		BestPenalizedCost: -2.0,
		BestRawCost:       -2.0,
		Feasible:          true,
		Evaluations:       18,
		FinalTheta:        []float64{0.1, 0.2},
	}))

	// Same exec index cannot be stored twice.
	require.Error(t, repo.SaveExecResult("run-4", ExecResult{Exec: 0, Seed: 42}))
}

func TestRepositoryListAndCleanup(t *testing.T) {
	repo := setupRepo(t)

	old := testRun("run-old")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repo.CreateRun(old))
	require.NoError(t, repo.CompleteRun("run-old", &Outcome{BestExec: 0}, nil, "", nil))

	fresh := testRun("run-fresh")
	require.NoError(t, repo.CreateRun(fresh))

	runs, err := repo.ListRuns("", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-fresh", runs[0].ID, "newest first")

	counts, err := repo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusCompleted])
	assert.Equal(t, 1, counts[StatusPending])

	deleted, err := repo.DeleteRunsBefore(time.Now().UTC().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err = repo.ListRuns("", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-fresh", runs[0].ID)
}
