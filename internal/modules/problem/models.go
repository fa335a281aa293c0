// Package problem defines discrete portfolio allocation problem instances.
//
// A Model is an immutable optimization instance: an ordered set of binary
// decision variables, linear constraints with a feasible band, and a
// linear + quadratic cost expression. Models are built once (by the LP parser
// or the synthetic generator) and never mutated afterwards.
package problem

import (
	"fmt"
	"math"
	"strings"
)

// Assignment is a full bit-assignment over the model's variables, in
// declaration order. Values are 0 or 1.
type Assignment []uint8

// String renders the assignment as a bitstring, first variable leftmost.
func (a Assignment) String() string {
	var b strings.Builder
	b.Grow(len(a))
	for _, bit := range a {
		if bit == 0 {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

// Clone returns an independent copy of the assignment.
func (a Assignment) Clone() Assignment {
	out := make(Assignment, len(a))
	copy(out, a)
	return out
}

// ParseAssignment parses a bitstring into an Assignment.
func ParseAssignment(s string) (Assignment, error) {
	out := make(Assignment, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			out[i] = 0
		case '1':
			out[i] = 1
		default:
			return nil, fmt.Errorf("invalid bitstring %q: character %q at position %d", s, s[i], i)
		}
	}
	return out, nil
}

// QuadraticTerm is a single x_i * x_j objective term.
type QuadraticTerm struct {
	I           int     `json:"i"`
	J           int     `json:"j"`
	Coefficient float64 `json:"coefficient"`
}

// Objective is the base (unpenalized) cost expression.
// Linear is aligned to the model's variable order.
type Objective struct {
	Constant  float64         `json:"constant"`
	Linear    []float64       `json:"linear"`
	Quadratic []QuadraticTerm `json:"quadratic,omitempty"`
}

// Constraint is a linear constraint with a feasible band:
// Lower <= sum(Coefficients_i * x_i) <= Upper.
// One-sided constraints use -Inf / +Inf for the open side; equalities have
// Lower == Upper.
type Constraint struct {
	Name         string
	Coefficients []float64
	Lower        float64
	Upper        float64
}

// Model is a discrete optimization instance. Immutable once built.
type Model struct {
	Name        string       `json:"name"`
	Variables   []string     `json:"variables"`
	Objective   Objective    `json:"objective"`
	Constraints []Constraint `json:"constraints,omitempty"`

	index map[string]int
}

// NumVariables returns the number of binary decision variables.
func (m *Model) NumVariables() int {
	return len(m.Variables)
}

// VariableIndex returns the position of a named variable in declaration
// order, or -1 if the variable is unknown.
func (m *Model) VariableIndex(name string) int {
	if idx, ok := m.index[name]; ok {
		return idx
	}
	return -1
}

// BaseCost evaluates the unpenalized objective for a full assignment.
func (m *Model) BaseCost(a Assignment) float64 {
	cost := m.Objective.Constant
	for i, c := range m.Objective.Linear {
		if a[i] != 0 {
			cost += c
		}
	}
	for _, q := range m.Objective.Quadratic {
		if a[q.I] != 0 && a[q.J] != 0 {
			cost += q.Coefficient
		}
	}
	return cost
}

// ConstraintValue evaluates the linear form of constraint k for an assignment.
func (m *Model) ConstraintValue(k int, a Assignment) float64 {
	sum := 0.0
	for i, c := range m.Constraints[k].Coefficients {
		if a[i] != 0 {
			sum += c
		}
	}
	return sum
}

// IsFeasible reports whether an assignment satisfies every constraint band.
func (m *Model) IsFeasible(a Assignment) bool {
	for k := range m.Constraints {
		v := m.ConstraintValue(k, a)
		if v < m.Constraints[k].Lower || v > m.Constraints[k].Upper {
			return false
		}
	}
	return true
}

// Validate checks structural soundness. It must be called (and pass) before
// any sampler or optimizer is constructed from the model.
func (m *Model) Validate() error {
	if m == nil {
		return &MalformedModelError{Reason: "nil model"}
	}
	if len(m.Variables) == 0 {
		return &MalformedModelError{Model: m.Name, Reason: "model declares zero decision variables"}
	}
	if len(m.Objective.Linear) != len(m.Variables) {
		return &MalformedModelError{
			Model:  m.Name,
			Reason: fmt.Sprintf("objective has %d linear coefficients for %d variables", len(m.Objective.Linear), len(m.Variables)),
		}
	}
	for _, q := range m.Objective.Quadratic {
		if q.I < 0 || q.I >= len(m.Variables) || q.J < 0 || q.J >= len(m.Variables) {
			return &MalformedModelError{Model: m.Name, Reason: fmt.Sprintf("quadratic term references variable index out of range (%d, %d)", q.I, q.J)}
		}
	}
	for _, c := range m.Constraints {
		if len(c.Coefficients) != len(m.Variables) {
			return &MalformedModelError{Model: m.Name, Reason: fmt.Sprintf("constraint %q has %d coefficients for %d variables", c.Name, len(c.Coefficients), len(m.Variables))}
		}
		if math.IsInf(c.Lower, -1) && math.IsInf(c.Upper, 1) {
			return &MalformedModelError{Model: m.Name, Reason: fmt.Sprintf("constraint %q has no bounds", c.Name)}
		}
		if c.Lower > c.Upper {
			return &MalformedModelError{Model: m.Name, Reason: fmt.Sprintf("constraint %q has lower bound %g above upper bound %g", c.Name, c.Lower, c.Upper)}
		}
	}
	return nil
}

// Builder assembles a Model incrementally. Build validates and freezes it.
type Builder struct {
	name        string
	variables   []string
	index       map[string]int
	constant    float64
	linear      map[int]float64
	quadratic   []QuadraticTerm
	constraints []builderConstraint
}

type builderConstraint struct {
	name  string
	terms map[int]float64
	lower float64
	upper float64
}

// NewBuilder creates a model builder.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		index:  make(map[string]int),
		linear: make(map[int]float64),
	}
}

// AddVariable registers a binary decision variable, returning its index.
// Re-registering a known name returns the existing index.
func (b *Builder) AddVariable(name string) int {
	if idx, ok := b.index[name]; ok {
		return idx
	}
	idx := len(b.variables)
	b.variables = append(b.variables, name)
	b.index[name] = idx
	return idx
}

// SetConstant sets the objective constant offset.
func (b *Builder) SetConstant(c float64) {
	b.constant = c
}

// AddLinearTerm accumulates a linear objective coefficient for a variable.
func (b *Builder) AddLinearTerm(variable string, coeff float64) {
	idx := b.AddVariable(variable)
	b.linear[idx] += coeff
}

// AddQuadraticTerm accumulates a quadratic objective coefficient.
func (b *Builder) AddQuadraticTerm(var1, var2 string, coeff float64) {
	i := b.AddVariable(var1)
	j := b.AddVariable(var2)
	b.quadratic = append(b.quadratic, QuadraticTerm{I: i, J: j, Coefficient: coeff})
}

// AddConstraint registers a linear constraint with a feasible band.
func (b *Builder) AddConstraint(name string, terms map[string]float64, lower, upper float64) {
	bc := builderConstraint{name: name, terms: make(map[int]float64, len(terms)), lower: lower, upper: upper}
	for v, c := range terms {
		bc.terms[b.AddVariable(v)] += c
	}
	b.constraints = append(b.constraints, bc)
}

// Build validates and freezes the model.
func (b *Builder) Build() (*Model, error) {
	m := &Model{
		Name:      b.name,
		Variables: append([]string(nil), b.variables...),
		index:     make(map[string]int, len(b.variables)),
	}
	for name, idx := range b.index {
		m.index[name] = idx
	}

	m.Objective.Constant = b.constant
	m.Objective.Linear = make([]float64, len(b.variables))
	for idx, c := range b.linear {
		m.Objective.Linear[idx] = c
	}
	m.Objective.Quadratic = append([]QuadraticTerm(nil), b.quadratic...)

	for _, bc := range b.constraints {
		coeffs := make([]float64, len(b.variables))
		for idx, c := range bc.terms {
			coeffs[idx] = c
		}
		m.Constraints = append(m.Constraints, Constraint{
			Name:         bc.name,
			Coefficients: coeffs,
			Lower:        bc.lower,
			Upper:        bc.upper,
		})
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
