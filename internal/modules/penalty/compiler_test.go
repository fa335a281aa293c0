package penalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// bandModel builds the reference scenario: three binary variables, one
// constraint 1 <= x1+x2+x3 <= 2, objective (x1+x2+x3-1)^2 expanded into
// constant + linear + quadratic terms.
func bandModel(t *testing.T) *problem.Model {
	t.Helper()
	b := problem.NewBuilder("band")
	// (x1+x2+x3-1)^2 = 1 - x1 - x2 - x3 + 2 x1x2 + 2 x1x3 + 2 x2x3
	// using x^2 = x for binaries.
	b.SetConstant(1)
	for _, v := range []string{"x1", "x2", "x3"} {
		b.AddLinearTerm(v, -1)
	}
	b.AddQuadraticTerm("x1", "x2", 2)
	b.AddQuadraticTerm("x1", "x3", 2)
	b.AddQuadraticTerm("x2", "x3", 2)
	b.AddConstraint("band", map[string]float64{"x1": 1, "x2": 1, "x3": 1}, 1, 2)
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestFeasibleAssignmentsCarryZeroPenalty(t *testing.T) {
	m := bandModel(t)
	obj, err := Compile(m, Config{DefaultCoefficient: 7.5})
	require.NoError(t, err)

	feasible := []string{"100", "010", "001", "110", "101", "011"}
	for _, s := range feasible {
		a, err := problem.ParseAssignment(s)
		require.NoError(t, err)
		assert.InDelta(t, m.BaseCost(a), obj(a), 1e-12, "assignment %s", s)
	}
}

func TestViolationsScoreCoefficientTimesSquare(t *testing.T) {
	m := bandModel(t)
	coeff := 3.25
	obj, err := Compile(m, Config{DefaultCoefficient: coeff})
	require.NoError(t, err)

	// 111: sum=3, violation above the band by 1.
	all, _ := problem.ParseAssignment("111")
	assert.InDelta(t, m.BaseCost(all)+coeff, obj(all), 1e-12)

	// 000: sum=0, violation below the band by 1.
	none, _ := problem.ParseAssignment("000")
	assert.InDelta(t, m.BaseCost(none)+coeff, obj(none), 1e-12)
}

func TestPenaltyGrowsWithViolation(t *testing.T) {
	b := problem.NewBuilder("growth")
	for _, v := range []string{"x1", "x2", "x3", "x4"} {
		b.AddLinearTerm(v, 0)
	}
	b.AddConstraint("cap", map[string]float64{"x1": 1, "x2": 1, "x3": 1, "x4": 1}, 0, 1)
	m, err := b.Build()
	require.NoError(t, err)

	obj, err := Compile(m, Config{DefaultCoefficient: 2.0})
	require.NoError(t, err)

	prev := 0.0
	for _, s := range []string{"1100", "1110", "1111"} {
		a, _ := problem.ParseAssignment(s)
		cost := obj(a)
		assert.Greater(t, cost, prev, "penalty must be strictly increasing in violation, assignment %s", s)
		prev = cost
	}
	// Quadratic growth: violations 1, 2, 3 score 2, 8, 18.
	a, _ := problem.ParseAssignment("1111")
	assert.InDelta(t, 18.0, obj(a), 1e-12)
}

func TestPerConstraintCoefficients(t *testing.T) {
	b := problem.NewBuilder("percons")
	b.AddLinearTerm("x1", 0)
	b.AddLinearTerm("x2", 0)
	b.AddConstraint("hard", map[string]float64{"x1": 1}, 1, 1)
	b.AddConstraint("soft", map[string]float64{"x2": 1}, 1, 1)
	m, err := b.Build()
	require.NoError(t, err)

	obj, err := Compile(m, Config{
		DefaultCoefficient: 1.0,
		Coefficients:       map[string]float64{"hard": 100.0},
	})
	require.NoError(t, err)

	violatesHard, _ := problem.ParseAssignment("01")
	violatesSoft, _ := problem.ParseAssignment("10")
	assert.InDelta(t, 100.0, obj(violatesHard), 1e-12)
	assert.InDelta(t, 1.0, obj(violatesSoft), 1e-12)
}

func TestCompileRejectsEmptyModel(t *testing.T) {
	_, err := Compile(&problem.Model{Name: "void"}, DefaultConfig())
	require.Error(t, err)

	var malformed *problem.MalformedModelError
	assert.ErrorAs(t, err, &malformed)
}

func TestCompileIsReferentiallyTransparent(t *testing.T) {
	m := bandModel(t)
	obj1, err := Compile(m, DefaultConfig())
	require.NoError(t, err)
	obj2, err := Compile(m, DefaultConfig())
	require.NoError(t, err)

	for _, s := range []string{"000", "001", "010", "011", "100", "101", "110", "111"} {
		a, _ := problem.ParseAssignment(s)
		assert.Equal(t, obj1(a), obj2(a), "assignment %s", s)
	}
}
