package problem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSelectionModel(t *testing.T) *Model {
	t.Helper()
	b := NewBuilder("selection")
	b.AddLinearTerm("x1", -1.0)
	b.AddLinearTerm("x2", -2.0)
	b.AddQuadraticTerm("x1", "x2", 4.0)
	b.AddConstraint("budget", map[string]float64{"x1": 1, "x2": 1}, 1, 2)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestBuilderPreservesDeclarationOrder(t *testing.T) {
	b := NewBuilder("order")
	b.AddVariable("w_2")
	b.AddVariable("w_0")
	b.AddVariable("w_1")
	b.AddVariable("w_0") // duplicate registration keeps first position
	b.AddConstraint("any", map[string]float64{"w_2": 1}, 0, 1)
	m, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"w_2", "w_0", "w_1"}, m.Variables)
	assert.Equal(t, 0, m.VariableIndex("w_2"))
	assert.Equal(t, 1, m.VariableIndex("w_0"))
	assert.Equal(t, -1, m.VariableIndex("missing"))
}

func TestBaseCost(t *testing.T) {
	m := buildSelectionModel(t)

	// x1=1, x2=0: -1
	assert.InDelta(t, -1.0, m.BaseCost(Assignment{1, 0}), 1e-12)
	// x1=1, x2=1: -1 -2 +4
	assert.InDelta(t, 1.0, m.BaseCost(Assignment{1, 1}), 1e-12)
	assert.InDelta(t, 0.0, m.BaseCost(Assignment{0, 0}), 1e-12)
}

func TestFeasibility(t *testing.T) {
	m := buildSelectionModel(t)

	assert.False(t, m.IsFeasible(Assignment{0, 0}), "below the band")
	assert.True(t, m.IsFeasible(Assignment{1, 0}))
	assert.True(t, m.IsFeasible(Assignment{1, 1}))
}

func TestValidateZeroVariables(t *testing.T) {
	m := &Model{Name: "empty"}
	err := m.Validate()
	require.Error(t, err)

	var malformed *MalformedModelError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Error(), "zero decision variables")
}

func TestValidateUnboundedConstraint(t *testing.T) {
	m := &Model{
		Name:      "unbounded",
		Variables: []string{"x"},
		Objective: Objective{Linear: []float64{1}},
		Constraints: []Constraint{
			{Name: "free", Coefficients: []float64{1}, Lower: math.Inf(-1), Upper: math.Inf(1)},
		},
	}
	var malformed *MalformedModelError
	require.ErrorAs(t, m.Validate(), &malformed)
	assert.Contains(t, malformed.Reason, "no bounds")
}

func TestAssignmentRoundTrip(t *testing.T) {
	a, err := ParseAssignment("0110")
	require.NoError(t, err)
	assert.Equal(t, Assignment{0, 1, 1, 0}, a)
	assert.Equal(t, "0110", a.String())

	_, err = ParseAssignment("01x0")
	assert.Error(t, err)
}

func TestAssignmentCloneIsIndependent(t *testing.T) {
	a := Assignment{1, 0, 1}
	c := a.Clone()
	c[0] = 0
	assert.Equal(t, uint8(1), a[0])
}
