package refiner

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rougem/FinQuantOpt/internal/modules/penalty"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// onesObjective counts set bits; its global minimum is all zeros.
func onesObjective(a problem.Assignment) float64 {
	n := 0.0
	for _, b := range a {
		if b != 0 {
			n++
		}
	}
	return n
}

func TestRefineDescendsToLocalMinimum(t *testing.T) {
	r := New(DefaultConfig(), zerolog.Nop())

	start, _ := problem.ParseAssignment("10110")
	res := r.Refine(start, onesObjective)

	assert.Equal(t, "00000", res.Assignment.String())
	assert.InDelta(t, 0.0, res.Cost, 1e-12)
	assert.True(t, res.Improved)
}

func TestRefineNeverWorsens(t *testing.T) {
	r := New(Config{Radius: 1}, zerolog.Nop())

	starts := []string{"000", "111", "010", "101"}
	for _, s := range starts {
		start, _ := problem.ParseAssignment(s)
		before := onesObjective(start)
		res := r.Refine(start, onesObjective)
		assert.LessOrEqual(t, res.Cost, before, "start %s", s)
	}
}

func TestRefineDoesNotMutateInput(t *testing.T) {
	r := New(DefaultConfig(), zerolog.Nop())
	start, _ := problem.ParseAssignment("111")
	_ = r.Refine(start, onesObjective)
	assert.Equal(t, "111", start.String())
}

func TestRefineRejectsEqualCostFlips(t *testing.T) {
	r := New(DefaultConfig(), zerolog.Nop())

	flat := func(a problem.Assignment) float64 { return 1.0 }
	start, _ := problem.ParseAssignment("0101")
	res := r.Refine(start, flat)

	assert.Equal(t, "0101", res.Assignment.String(), "equal-cost moves are never accepted")
	assert.False(t, res.Improved)
	assert.Equal(t, 4, res.Evaluations, "one full scan of the radius-1 neighborhood")
}

func TestRadiusTwoEscapesSingleFlipMinimum(t *testing.T) {
	// Objective with a radius-1 local minimum at "11": flipping one bit
	// increases cost, flipping both reaches the global minimum "00".
	costs := map[string]float64{"11": 1, "10": 2, "01": 2, "00": 0}
	obj := func(a problem.Assignment) float64 { return costs[a.String()] }

	start, _ := problem.ParseAssignment("11")

	r1 := New(Config{Radius: 1}, zerolog.Nop())
	res1 := r1.Refine(start, obj)
	assert.Equal(t, "11", res1.Assignment.String())

	r2 := New(Config{Radius: 2}, zerolog.Nop())
	res2 := r2.Refine(start, obj)
	assert.Equal(t, "00", res2.Assignment.String())
}

func TestEvaluationBudgetStopsSearch(t *testing.T) {
	r := New(Config{Radius: 1, MaxEvaluations: 2}, zerolog.Nop())

	start, _ := problem.ParseAssignment("1111")
	res := r.Refine(start, onesObjective)

	assert.Equal(t, 2, res.Evaluations)
	// Budget cut the descent short but never worsened the assignment.
	assert.LessOrEqual(t, res.Cost, onesObjective(start))
}

func TestRandomizedOrderIsSeedDeterministic(t *testing.T) {
	cfg := Config{Radius: 1, RandomizeOrder: true, Seed: 99}
	r1 := New(cfg, zerolog.Nop())
	r2 := New(cfg, zerolog.Nop())

	start, _ := problem.ParseAssignment("10101")
	res1 := r1.Refine(start, onesObjective)
	res2 := r2.Refine(start, onesObjective)

	assert.Equal(t, res1.Assignment.String(), res2.Assignment.String())
	assert.Equal(t, res1.Evaluations, res2.Evaluations)
}

func TestRefineImprovesPenalizedObjective(t *testing.T) {
	b := problem.NewBuilder("refine")
	b.AddLinearTerm("x1", -1)
	b.AddLinearTerm("x2", -1)
	b.AddLinearTerm("x3", -1)
	b.AddConstraint("pick_two", map[string]float64{"x1": 1, "x2": 1, "x3": 1}, 2, 2)
	m, err := b.Build()
	require.NoError(t, err)

	obj, err := penalty.Compile(m, penalty.Config{DefaultCoefficient: 10})
	require.NoError(t, err)

	// "111" violates the cardinality constraint; descent should drop one bit.
	start, _ := problem.ParseAssignment("111")
	res := New(DefaultConfig(), zerolog.Nop()).Refine(start, obj)

	assert.InDelta(t, -2.0, res.Cost, 1e-12)
	assert.True(t, m.IsFeasible(res.Assignment))
}
