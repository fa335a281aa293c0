package baseline

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"

	"github.com/rougem/FinQuantOpt/internal/modules/penalty"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// RelaxConfig tunes the local relaxation fallback.
type RelaxConfig struct {
	// PenaltyCoefficient weights constraint violations in the continuous
	// surrogate, matching the coefficient used for the sampled objective.
	PenaltyCoefficient float64
	// MaxIterations bounds the Nelder-Mead simplex iterations.
	MaxIterations int
}

func DefaultRelaxConfig() RelaxConfig {
	return RelaxConfig{PenaltyCoefficient: 10.0, MaxIterations: 2000}
}

// Relax computes a reference by minimizing the continuous box relaxation of
// the penalized objective with Nelder-Mead, then rounding the fractional
// solution at a sweep of thresholds and keeping the cheapest rounding. The
// result is a heuristic lower-effort stand-in for the exact sidecar, not a
// certified optimum.
func Relax(m *problem.Model, cfg RelaxConfig, log zerolog.Logger) (*Reference, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if cfg.PenaltyCoefficient <= 0 {
		cfg = DefaultRelaxConfig()
	}
	log = log.With().Str("component", "baseline-relaxation").Logger()

	n := m.NumVariables()
	surrogate := func(x []float64) float64 {
		cost := m.Objective.Constant
		for i, c := range m.Objective.Linear {
			cost += c * x[i]
		}
		for _, q := range m.Objective.Quadratic {
			cost += q.Coefficient * x[q.I] * x[q.J]
		}
		for k := range m.Constraints {
			con := &m.Constraints[k]
			s := 0.0
			for i, c := range con.Coefficients {
				s += c * x[i]
			}
			if !math.IsInf(con.Lower, -1) && s < con.Lower {
				d := con.Lower - s
				cost += cfg.PenaltyCoefficient * d * d
			}
			if !math.IsInf(con.Upper, 1) && s > con.Upper {
				d := s - con.Upper
				cost += cfg.PenaltyCoefficient * d * d
			}
		}
		// Keep the simplex inside the unit box.
		for _, v := range x {
			if v < 0 {
				cost += cfg.PenaltyCoefficient * v * v
			} else if v > 1 {
				d := v - 1
				cost += cfg.PenaltyCoefficient * d * d
			}
		}
		return cost
	}

	x0 := make([]float64, n)
	for i := range x0 {
		x0[i] = 0.5
	}

	settings := &optimize.Settings{MajorIterations: cfg.MaxIterations}
	res, err := optimize.Minimize(optimize.Problem{Func: surrogate}, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("relaxation solve failed: %w", err)
	}

	objective, err := penalty.Compile(m, penalty.Config{DefaultCoefficient: cfg.PenaltyCoefficient})
	if err != nil {
		return nil, err
	}

	best := make(problem.Assignment, n)
	bestCost := math.Inf(1)
	candidate := make(problem.Assignment, n)
	for _, threshold := range []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9} {
		for i, v := range res.X {
			if v >= threshold {
				candidate[i] = 1
			} else {
				candidate[i] = 0
			}
		}
		if c := objective(candidate); c < bestCost {
			bestCost = c
			copy(best, candidate)
		}
	}

	ref := &Reference{
		Assignment: best,
		Cost:       m.BaseCost(best),
		Feasible:   m.IsFeasible(best),
		Source:     "relaxation",
	}
	log.Debug().
		Str("model", m.Name).
		Float64("relaxed_cost", res.F).
		Float64("rounded_cost", bestCost).
		Bool("feasible", ref.Feasible).
		Msg("relaxation reference computed")
	return ref, nil
}
