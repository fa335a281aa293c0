// Package penalty compiles constrained allocation models into unconstrained
// penalty-augmented objectives.
package penalty

import (
	"math"

	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// Objective is a pure function mapping a full bit-assignment to a scalar
// cost: base objective plus the penalty terms of every violated constraint.
type Objective func(a problem.Assignment) float64

// Config holds penalty coefficients per constraint. Constraints without an
// explicit entry use DefaultCoefficient.
type Config struct {
	DefaultCoefficient float64
	Coefficients       map[string]float64
}

// DefaultConfig returns the coefficient configuration used when the caller
// supplies none.
func DefaultConfig() Config {
	return Config{DefaultCoefficient: 10.0}
}

// CoefficientFor resolves the penalty coefficient for a named constraint.
func (c Config) CoefficientFor(name string) float64 {
	if v, ok := c.Coefficients[name]; ok {
		return v
	}
	return c.DefaultCoefficient
}

// Compile turns a validated model into an unconstrained penalized objective.
//
// Each constraint lower <= sum(a_i x_i) <= upper contributes
//
//	coeff * max(0, lower-s)^2 + coeff * max(0, s-upper)^2
//
// which is zero inside the feasible band and grows quadratically with the
// violation magnitude. Compilation is referentially transparent: identical
// inputs yield an objective with identical values everywhere.
//
// A model with zero decision variables (or any other structural defect) is
// rejected with MalformedModelError before the objective is built, so no
// sampling can ever start from a malformed instance.
func Compile(m *problem.Model, cfg Config) (Objective, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	type compiledConstraint struct {
		coeffs []float64
		lower  float64
		upper  float64
		weight float64
	}

	constraints := make([]compiledConstraint, 0, len(m.Constraints))
	for _, c := range m.Constraints {
		constraints = append(constraints, compiledConstraint{
			coeffs: c.Coefficients,
			lower:  c.Lower,
			upper:  c.Upper,
			weight: cfg.CoefficientFor(c.Name),
		})
	}

	linear := m.Objective.Linear
	quadratic := m.Objective.Quadratic
	constant := m.Objective.Constant

	return func(a problem.Assignment) float64 {
		cost := constant
		for i, c := range linear {
			if a[i] != 0 {
				cost += c
			}
		}
		for _, q := range quadratic {
			if a[q.I] != 0 && a[q.J] != 0 {
				cost += q.Coefficient
			}
		}
		for _, c := range constraints {
			s := 0.0
			for i, coeff := range c.coeffs {
				if a[i] != 0 {
					s += coeff
				}
			}
			if !math.IsInf(c.lower, -1) && s < c.lower {
				d := c.lower - s
				cost += c.weight * d * d
			}
			if !math.IsInf(c.upper, 1) && s > c.upper {
				d := s - c.upper
				cost += c.weight * d * d
			}
		}
		return cost
	}, nil
}
