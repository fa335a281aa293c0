// Package ansatz describes parameterized-circuit shapes for the sampling
// backends. The engine never builds circuits itself; it only needs the
// parameter-vector length implied by a descriptor and an initial value
// strategy for those parameters.
package ansatz

import (
	"fmt"
	"math"
	"math/rand"
)

// Family identifies the circuit family.
type Family string

const (
	// FamilyTwoLocal is a hardware-efficient layout of single-qubit rotation
	// layers separated by entangling layers: reps+1 rotation layers.
	FamilyTwoLocal Family = "TwoLocal"
	// FamilyBFCD is the brickwork-CD layout with two rotation angles per
	// qubit per repetition.
	FamilyBFCD Family = "bfcd"
)

// Entanglement identifies the two-qubit coupling layout. It does not change
// the parameter count; it is forwarded to the backend verbatim.
type Entanglement string

const (
	EntanglementBilinear Entanglement = "bilinear"
	EntanglementFull     Entanglement = "full"
	EntanglementColor    Entanglement = "color"
)

// InitialTheta strategies.
const (
	ThetaInitialPiBy3  = "piby3"
	ThetaInitialRandom = "random"
)

// Ansatz is an immutable circuit-shape descriptor.
type Ansatz struct {
	Family       Family       `json:"family"`
	Qubits       int          `json:"qubits"`
	Reps         int          `json:"reps"`
	Entanglement Entanglement `json:"entanglement"`
}

// New builds a descriptor with one qubit per decision variable.
func New(family Family, qubits, reps int, entanglement Entanglement) (Ansatz, error) {
	if qubits <= 0 {
		return Ansatz{}, fmt.Errorf("ansatz requires at least one qubit, got %d", qubits)
	}
	if reps <= 0 {
		return Ansatz{}, fmt.Errorf("ansatz requires at least one repetition, got %d", reps)
	}
	switch family {
	case FamilyTwoLocal, FamilyBFCD:
	default:
		return Ansatz{}, fmt.Errorf("unknown ansatz family %q", family)
	}
	if entanglement == "" {
		entanglement = EntanglementBilinear
	}
	return Ansatz{Family: family, Qubits: qubits, Reps: reps, Entanglement: entanglement}, nil
}

// NumParameters returns the expected parameter-vector length. Callers use it
// to validate the shape of every theta handed to a sampling backend.
func (a Ansatz) NumParameters() int {
	switch a.Family {
	case FamilyBFCD:
		return a.Qubits * a.Reps * 2
	default:
		// TwoLocal: one rotation layer before each entangling layer plus a
		// final rotation layer.
		return a.Qubits * (a.Reps + 1)
	}
}

// InitialTheta produces a fresh parameter vector for one independent run.
// The piby3 strategy sets every angle to π/3; random draws uniformly from
// [0, 2π) with the given seed so repeated runs are reproducible yet
// independent across seeds.
func (a Ansatz) InitialTheta(strategy string, seed int64) ([]float64, error) {
	n := a.NumParameters()
	theta := make([]float64, n)
	switch strategy {
	case ThetaInitialPiBy3, "":
		for i := range theta {
			theta[i] = math.Pi / 3
		}
	case ThetaInitialRandom:
		rng := rand.New(rand.NewSource(seed))
		for i := range theta {
			theta[i] = rng.Float64() * 2 * math.Pi
		}
	default:
		return nil, fmt.Errorf("unknown theta initial strategy %q", strategy)
	}
	return theta, nil
}
