package hybrid

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// RunStatus is the lifecycle state of a stored run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is the persisted run header.
type Run struct {
	ID             string             `json:"id"`
	ProblemName    string             `json:"problem_name"`
	Status         RunStatus          `json:"status"`
	Config         Config             `json:"config"`
	Ansatz         ansatz.Ansatz      `json:"ansatz"`
	BestExec       *int               `json:"best_exec,omitempty"`
	BestAssignment problem.Assignment `json:"best_assignment,omitempty"`
	BestCost       *float64           `json:"best_penalized_cost,omitempty"`
	BestRawCost    *float64           `json:"best_raw_cost,omitempty"`
	Feasible       *bool              `json:"feasible,omitempty"`
	BaselineCost   *float64           `json:"baseline_cost,omitempty"`
	BaselineSource string             `json:"baseline_source,omitempty"`
	Gap            *float64           `json:"gap,omitempty"`
	Error          string             `json:"error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// ExportRecord is the schema-stable external form of one epoch. Field names
// and types are frozen: downstream analysis tooling parses them directly.
type ExportRecord struct {
	Parameters []float64 `json:"parameters"`
	Assignment []int     `json:"assignment"`
	Cost       float64   `json:"cost"`
	Epoch      int       `json:"epoch"`
}

// Repository handles run persistence in results.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new run repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
	}
}

// CreateRun inserts a pending run header.
func (r *Repository) CreateRun(run *Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	ansatzJSON, err := json.Marshal(run.Ansatz)
	if err != nil {
		return fmt.Errorf("failed to marshal ansatz: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO runs (id, problem_name, status, config, ansatz, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProblemName, string(StatusPending), string(cfgJSON), string(ansatzJSON),
		run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// MarkRunning flips a run to running and stamps the start time.
func (r *Repository) MarkRunning(runID string) error {
	_, err := r.db.Exec(
		"UPDATE runs SET status = ?, started_at = ? WHERE id = ?",
		string(StatusRunning), time.Now().UTC().Format(time.RFC3339), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run %s running: %w", runID, err)
	}
	return nil
}

// CompleteRun stores the terminal outcome of a successful run.
func (r *Repository) CompleteRun(runID string, out *Outcome, baselineCost *float64, baselineSource string, gap *float64) error {
	var assignment interface{}
	if out.BestAssignment != nil {
		assignment = out.BestAssignment.String()
	}
	_, err := r.db.Exec(`
		UPDATE runs SET
			status = ?, best_exec = ?, best_assignment = ?, best_penalized_cost = ?,
			best_raw_cost = ?, feasible = ?, baseline_cost = ?, baseline_source = ?,
			gap = ?, finished_at = ?
		WHERE id = ?`,
		string(StatusCompleted), out.BestExec, assignment, out.BestPenalizedCost,
		out.BestRawCost, boolToInt(out.Feasible), baselineCost, nullEmpty(baselineSource),
		gap, time.Now().UTC().Format(time.RFC3339), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	return nil
}

// FailRun stores the terminal error of a failed run.
func (r *Repository) FailRun(runID string, runErr error) error {
	_, err := r.db.Exec(
		"UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		string(StatusFailed), runErr.Error(), time.Now().UTC().Format(time.RFC3339), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run %s failed: %w", runID, err)
	}
	return nil
}

// SaveIteration appends one epoch record. Theta is stored as a msgpack blob
// to keep rows compact for large parameter vectors.
func (r *Repository) SaveIteration(runID string, exec int, rec IterationRecord) error {
	theta, err := msgpack.Marshal(rec.Theta)
	if err != nil {
		return fmt.Errorf("failed to encode theta: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO iterations (run_id, exec, epoch, cost, best_cost, best_assignment, theta, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, exec, rec.Epoch, rec.Cost, rec.BestCost, rec.BestAssignment.String(),
		theta, rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert iteration %d/%d for run %s: %w", exec, rec.Epoch, runID, err)
	}
	return nil
}

// SaveExecResult stores the terminal record of one repetition.
func (r *Repository) SaveExecResult(runID string, res ExecResult) error {
	var theta []byte
	var err error
	if res.FinalTheta != nil {
		theta, err = msgpack.Marshal(res.FinalTheta)
		if err != nil {
			return fmt.Errorf("failed to encode final theta: %w", err)
		}
	}
	var assignment interface{}
	if res.BestAssignment != nil {
		assignment = res.BestAssignment.String()
	}
	_, err = r.db.Exec(`
		INSERT INTO exec_results (run_id, exec, seed, converged, reason, best_assignment,
			best_penalized_cost, best_raw_cost, feasible, refined, evaluations, skipped_fits, final_theta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Exec, res.Seed, boolToInt(res.Converged), res.Reason, assignment,
		res.BestPenalizedCost, res.BestRawCost, boolToInt(res.Feasible), boolToInt(res.Refined),
		res.Evaluations, res.SkippedFits, theta,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exec result %d for run %s: %w", res.Exec, runID, err)
	}
	return nil
}

// GetRun loads a run header by ID. Returns nil when absent.
func (r *Repository) GetRun(runID string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, problem_name, status, config, ansatz, best_exec, best_assignment,
			best_penalized_cost, best_raw_cost, feasible, baseline_cost, baseline_source,
			gap, error, created_at, started_at, finished_at
		FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns run headers newest first, optionally filtered by problem.
func (r *Repository) ListRuns(problemName string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, problem_name, status, config, ansatz, best_exec, best_assignment,
			best_penalized_cost, best_raw_cost, feasible, baseline_cost, baseline_source,
			gap, error, created_at, started_at, finished_at
		FROM runs`
	args := []interface{}{}
	if problemName != "" {
		query += " WHERE problem_name = ?"
		args = append(args, problemName)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetIterations loads the epoch history of one repetition in epoch order.
func (r *Repository) GetIterations(runID string, exec int) ([]IterationRecord, error) {
	rows, err := r.db.Query(`
		SELECT epoch, cost, best_cost, best_assignment, theta, duration_ms
		FROM iterations WHERE run_id = ? AND exec = ? ORDER BY epoch`, runID, exec)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var assignment string
		var theta []byte
		var durationMs int64
		if err := rows.Scan(&rec.Epoch, &rec.Cost, &rec.BestCost, &assignment, &theta, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if rec.BestAssignment, err = problem.ParseAssignment(assignment); err != nil {
			return nil, fmt.Errorf("corrupt assignment in run %s: %w", runID, err)
		}
		if err := msgpack.Unmarshal(theta, &rec.Theta); err != nil {
			return nil, fmt.Errorf("corrupt theta blob in run %s: %w", runID, err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ExportRecords renders the epoch history of one repetition in the frozen
// external schema.
func (r *Repository) ExportRecords(runID string, exec int) ([]ExportRecord, error) {
	records, err := r.GetIterations(runID, exec)
	if err != nil {
		return nil, err
	}
	out := make([]ExportRecord, 0, len(records))
	for _, rec := range records {
		bits := make([]int, len(rec.BestAssignment))
		for i, b := range rec.BestAssignment {
			bits[i] = int(b)
		}
		out = append(out, ExportRecord{
			Parameters: rec.Theta,
			Assignment: bits,
			Cost:       rec.Cost,
			Epoch:      rec.Epoch,
		})
	}
	return out, nil
}

// DeleteRunsBefore removes run headers (and cascaded history) older than the
// cutoff, returning the number of runs removed.
func (r *Repository) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM runs WHERE created_at < ? AND status IN (?, ?)",
		cutoff.UTC().Format(time.RFC3339), string(StatusCompleted), string(StatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns run counts keyed by status.
func (r *Repository) CountByStatus() (map[RunStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[RunStatus(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, cfgJSON, ansatzJSON, createdAt string
	var bestExec sql.NullInt64
	var assignment, baselineSource, runErr, startedAt, finishedAt sql.NullString
	var bestCost, bestRawCost, baselineCost, gap sql.NullFloat64
	var feasible sql.NullInt64

	err := row.Scan(&run.ID, &run.ProblemName, &status, &cfgJSON, &ansatzJSON,
		&bestExec, &assignment, &bestCost, &bestRawCost, &feasible,
		&baselineCost, &baselineSource, &gap, &runErr, &createdAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, fmt.Errorf("corrupt run config: %w", err)
	}
	if err := json.Unmarshal([]byte(ansatzJSON), &run.Ansatz); err != nil {
		return nil, fmt.Errorf("corrupt ansatz descriptor: %w", err)
	}
	if bestExec.Valid {
		v := int(bestExec.Int64)
		run.BestExec = &v
	}
	if assignment.Valid {
		if run.BestAssignment, err = problem.ParseAssignment(assignment.String); err != nil {
			return nil, fmt.Errorf("corrupt best assignment: %w", err)
		}
	}
	if bestCost.Valid {
		run.BestCost = &bestCost.Float64
	}
	if bestRawCost.Valid {
		run.BestRawCost = &bestRawCost.Float64
	}
	if feasible.Valid {
		v := feasible.Int64 != 0
		run.Feasible = &v
	}
	if baselineCost.Valid {
		run.BaselineCost = &baselineCost.Float64
	}
	if baselineSource.Valid {
		run.BaselineSource = baselineSource.String
	}
	if gap.Valid {
		run.Gap = &gap.Float64
	}
	if runErr.Valid {
		run.Error = runErr.String
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at: %w", err)
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			run.StartedAt = &t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
