package problem

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLP = `\ Generated portfolio selection problem
Minimize
 obj: - 0.08 w[0] - 0.12 w[1] - 0.05 w[2]
      + [ 0.4 w[0] ^ 2 + 0.6 w[1] ^ 2 + 0.2 w[0] * w[1] ] / 2
Subject To
 budget: w[0] + w[1] + w[2] <= 2
 min_positions: w[0] + w[1] + w[2] >= 1
Binaries
 w[0] w[1] w[2]
End
`

func TestParseLPSampleProblem(t *testing.T) {
	m, err := ParseLP("sample", strings.NewReader(sampleLP))
	require.NoError(t, err)

	assert.Equal(t, []string{"w_0", "w_1", "w_2"}, m.Variables)
	require.Len(t, m.Constraints, 2)

	budget := m.Constraints[0]
	assert.Equal(t, "budget", budget.Name)
	assert.Equal(t, []float64{1, 1, 1}, budget.Coefficients)
	assert.True(t, math.IsInf(budget.Lower, -1))
	assert.Equal(t, 2.0, budget.Upper)

	minPos := m.Constraints[1]
	assert.Equal(t, 1.0, minPos.Lower)
	assert.True(t, math.IsInf(minPos.Upper, 1))

	// Linear coefficients follow declaration order; quadratic block is /2.
	assert.InDelta(t, -0.08, m.Objective.Linear[0], 1e-12)
	assert.InDelta(t, -0.12, m.Objective.Linear[1], 1e-12)
	assert.InDelta(t, -0.05, m.Objective.Linear[2], 1e-12)

	// 0.4/2 w0^2 + 0.6/2 w1^2 + 0.2/2 w0 w1, evaluated at w0=w1=1, w2=0:
	// base = -0.08 - 0.12 + 0.2 + 0.3 + 0.1
	assert.InDelta(t, 0.4, m.BaseCost(Assignment{1, 1, 0}), 1e-12)
}

func TestParseLPRangedConstraint(t *testing.T) {
	lp := `
Minimize
 obj: x1 + x2 + x3
Subject To
 band: 1 <= x1 + x2 + x3 <= 2
End
`
	m, err := ParseLP("ranged", strings.NewReader(lp))
	require.NoError(t, err)
	require.Len(t, m.Constraints, 1)
	assert.Equal(t, 1.0, m.Constraints[0].Lower)
	assert.Equal(t, 2.0, m.Constraints[0].Upper)
	assert.Equal(t, []float64{1, 1, 1}, m.Constraints[0].Coefficients)
}

func TestParseLPMaximizeNegates(t *testing.T) {
	lp := `
Maximize
 obj: 2 x1 + 3 x2
Subject To
 cap: x1 + x2 <= 1
End
`
	m, err := ParseLP("maxmodel", strings.NewReader(lp))
	require.NoError(t, err)
	assert.InDelta(t, -2.0, m.Objective.Linear[0], 1e-12)
	assert.InDelta(t, -3.0, m.Objective.Linear[1], 1e-12)
}

func TestParseLPMultiLineConstraint(t *testing.T) {
	lp := `
Minimize
 obj: x1 + x2 + x3
Subject To
 spread: x1 + x2
  + x3 <= 2
End
`
	m, err := ParseLP("multiline", strings.NewReader(lp))
	require.NoError(t, err)
	require.Len(t, m.Constraints, 1)
	assert.Equal(t, "spread", m.Constraints[0].Name)
	assert.Equal(t, []float64{1, 1, 1}, m.Constraints[0].Coefficients)
}

func TestParseLPScientificNotation(t *testing.T) {
	lp := `
Minimize
 obj: 1.5e-02 x1 + 2E+1 x2
Subject To
 cap: x1 + x2 <= 1
End
`
	m, err := ParseLP("sci", strings.NewReader(lp))
	require.NoError(t, err)
	assert.InDelta(t, 0.015, m.Objective.Linear[0], 1e-12)
	assert.InDelta(t, 20.0, m.Objective.Linear[1], 1e-12)
}

func TestParseLPEmptyFileIsMalformed(t *testing.T) {
	_, err := ParseLP("empty", strings.NewReader("Minimize\nSubject To\nEnd\n"))
	require.Error(t, err)

	var malformed *MalformedModelError
	assert.ErrorAs(t, err, &malformed)
}

func TestParseLPUnnamedConstraintGetsDefaultName(t *testing.T) {
	lp := `
Minimize
 obj: x1
Subject To
 x1 <= 1
End
`
	m, err := ParseLP("unnamed", strings.NewReader(lp))
	require.NoError(t, err)
	require.Len(t, m.Constraints, 1)
	assert.Equal(t, "c1", m.Constraints[0].Name)
}
