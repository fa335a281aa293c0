package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/rougem/FinQuantOpt/internal/events"
	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
	"github.com/rougem/FinQuantOpt/internal/modules/sampler"
)

const testSchema = `
CREATE TABLE problems (
    name TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    variables INTEGER NOT NULL,
    constraints INTEGER NOT NULL,
    model TEXT NOT NULL,
    lp_text TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
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

func setupRunRouter(t *testing.T) (chi.Router, *hybrid.Service) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	problems := problem.NewRepository(db, zerolog.Nop())
	seedProblem(t, problems)

	runs := hybrid.NewRepository(db, zerolog.Nop())
	runner := hybrid.NewRunner(func(a ansatz.Ansatz, seed int64) (sampler.Sampler, error) {
		return sampler.NewSimulated(a, seed, zerolog.Nop()), nil
	}, zerolog.Nop())
	svc := hybrid.NewService(problems, runs, runner, nil, events.NewBus(zerolog.Nop()), zerolog.Nop())
	t.Cleanup(svc.Shutdown)

	h := NewHandler(svc, zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return r, svc
}

// seedProblem stores a three-asset model whose budget requires exactly two
// selections.
func seedProblem(t *testing.T, repo *problem.Repository) {
	t.Helper()
	b := problem.NewBuilder("pick-two")
	b.AddLinearTerm("w_0", -3)
	b.AddLinearTerm("w_1", -1)
	b.AddLinearTerm("w_2", -2)
	b.AddConstraint("budget", map[string]float64{"w_0": 1, "w_1": 1, "w_2": 1}, 2, 2)
	m, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, repo.Save(m, "test", ""))
}

func startRun(t *testing.T, r chi.Router) string {
	t.Helper()
	req := hybrid.RunRequest{
		ProblemName: "pick-two",
		Config: hybrid.Config{
			Shots:         256,
			Alpha:         0.2,
			MaxEpoch:      2,
			NumExec:       1,
			Seed:          11,
			OracleTimeout: time.Second,
		},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Data hybrid.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, hybrid.StatusPending, resp.Data.Status)
	return resp.Data.ID
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	r, svc := setupRunRouter(t)
	runID := startRun(t, r)
	svc.Wait()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data hybrid.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, hybrid.StatusCompleted, resp.Data.Status)
	require.NotNil(t, resp.Data.BestCost)
	require.NotNil(t, resp.Data.Feasible)
	assert.Len(t, resp.Data.BestAssignment, 3)
	require.NotNil(t, resp.Data.FinishedAt)
}

func TestIterationsAndExportOverHTTP(t *testing.T) {
	r, svc := setupRunRouter(t)
	runID := startRun(t, r)
	svc.Wait()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/iterations?exec=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var iters struct {
		Data []hybrid.IterationRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &iters))
	require.NotEmpty(t, iters.Data)
	for i, it := range iters.Data {
		assert.Equal(t, i+1, it.Epoch)
	}

	// Export is a bare array with a frozen set of keys.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+runID+"/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var export []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	require.Len(t, export, len(iters.Data))
	for _, row := range export {
		assert.Len(t, row, 4)
		for _, key := range []string{"parameters", "assignment", "cost", "epoch"} {
			assert.Contains(t, row, key)
		}
	}
}

func TestListRunsOverHTTP(t *testing.T) {
	r, svc := setupRunRouter(t)
	runID := startRun(t, r)
	svc.Wait()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/?problem=pick-two", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []hybrid.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, runID, resp.Data[0].ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/?limit=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRunUnknownProblem(t *testing.T) {
	r, _ := setupRunRouter(t)

	body := []byte(`{"problem_name": "no-such-problem"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/", bytes.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRunRejectsBadRequests(t *testing.T) {
	r, _ := setupRunRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/", bytes.NewReader([]byte(`{"ansatz": {"reps": 1}}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	r, _ := setupRunRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelInactiveRun(t *testing.T) {
	r, svc := setupRunRouter(t)
	runID := startRun(t, r)
	svc.Wait()

	// The run already finished, so there is nothing left to cancel.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/"+runID+"/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportRejectsBadExec(t *testing.T) {
	r, _ := setupRunRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/whatever/export?exec=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
