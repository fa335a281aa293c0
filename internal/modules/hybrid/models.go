// Package hybrid orchestrates the variational optimization loop: epochs of
// sample -> evaluate -> parameter update, followed by local-search
// refinement of the best discovered assignment.
package hybrid

import (
	"fmt"
	"time"

	"github.com/rougem/FinQuantOpt/internal/modules/problem"
	"github.com/rougem/FinQuantOpt/internal/modules/refiner"
)

// Config holds the knobs of one optimization run.
type Config struct {
	Shots          int           `json:"shots"`
	Alpha          float64       `json:"alpha"`
	MaxEpoch       int           `json:"max_epoch"`
	ThetaThreshold float64       `json:"theta_threshold"`
	ThetaInitial   string        `json:"theta_initial"`
	NumExec        int           `json:"num_exec"`
	MaxParallel    int           `json:"max_parallel"`
	Seed           int64         `json:"seed"`
	OracleTimeout  time.Duration `json:"oracle_timeout"`
	// DisableRetry opts out of the single per-epoch retry of a timed-out
	// sampler call. The retry is on by default.
	DisableRetry bool           `json:"disable_retry"`
	Refine       refiner.Config `json:"refine"`
}

// DefaultConfig mirrors the experiment defaults.
func DefaultConfig() Config {
	return Config{
		Shots:          1 << 13,
		Alpha:          0.1,
		MaxEpoch:       4,
		ThetaThreshold: 0.06,
		ThetaInitial:   "piby3",
		NumExec:        1,
		MaxParallel:    2,
		OracleTimeout:  5 * time.Minute,
		Refine:         refiner.DefaultConfig(),
	}
}

// Normalize fills zero values with defaults and validates ranges.
func (c Config) Normalize() (Config, error) {
	d := DefaultConfig()
	if c.Shots == 0 {
		c.Shots = d.Shots
	}
	if c.Alpha == 0 {
		c.Alpha = d.Alpha
	}
	if c.MaxEpoch == 0 {
		c.MaxEpoch = d.MaxEpoch
	}
	if c.ThetaInitial == "" {
		c.ThetaInitial = d.ThetaInitial
	}
	if c.NumExec == 0 {
		c.NumExec = d.NumExec
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.OracleTimeout == 0 {
		c.OracleTimeout = d.OracleTimeout
	}
	if c.Refine.Radius == 0 {
		c.Refine = d.Refine
	}
	if c.Shots < 0 || c.Alpha < 0 || c.Alpha > 1 || c.MaxEpoch < 0 || c.NumExec < 0 {
		return c, fmt.Errorf("invalid run configuration: shots=%d alpha=%g max_epoch=%d num_exec=%d", c.Shots, c.Alpha, c.MaxEpoch, c.NumExec)
	}
	return c, nil
}

// IterationRecord is the persisted snapshot of one epoch. Records are
// append-only; the full sequence is the run history.
type IterationRecord struct {
	Epoch          int                `json:"epoch"`
	Theta          []float64          `json:"parameters"`
	Cost           float64            `json:"cost"`
	Duration       time.Duration      `json:"duration"`
	BestAssignment problem.Assignment `json:"best_assignment"`
	BestCost       float64            `json:"best_cost"`
}

// ExecResult is the terminal record of one independent repetition.
type ExecResult struct {
	Exec              int                `json:"exec"`
	Seed              int64              `json:"seed"`
	Converged         bool               `json:"converged"`
	Reason            string             `json:"reason"`
	BestAssignment    problem.Assignment `json:"best_assignment"`
	BestPenalizedCost float64            `json:"best_penalized_cost"`
	// BestRawCost is the unpenalized objective of the best assignment.
	BestRawCost float64           `json:"best_raw_cost"`
	Feasible    bool              `json:"feasible"`
	Refined     bool              `json:"refined"`
	Evaluations int               `json:"evaluations"`
	SkippedFits int               `json:"skipped_fits"`
	FinalTheta  []float64         `json:"final_theta"`
	Records     []IterationRecord `json:"records"`
}

// Outcome aggregates all repetitions of a run.
type Outcome struct {
	Execs             []ExecResult       `json:"execs"`
	BestExec          int                `json:"best_exec"`
	BestAssignment    problem.Assignment `json:"best_assignment"`
	BestPenalizedCost float64            `json:"best_penalized_cost"`
	BestRawCost       float64            `json:"best_raw_cost"`
	Feasible          bool               `json:"feasible"`
}

// OracleTimeoutError marks an epoch whose sampling exceeded the configured
// deadline even after the single permitted retry. Recoverable at run
// granularity: the records persisted so far stay valid.
type OracleTimeoutError struct {
	Epoch   int
	Timeout time.Duration
}

func (e *OracleTimeoutError) Error() string {
	return fmt.Sprintf("sampling oracle timed out after %s during epoch %d", e.Timeout, e.Epoch)
}
