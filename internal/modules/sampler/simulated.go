package sampler

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
)

// Simulated is a deterministic pseudo-random surrogate backend.
//
// It is not a faithful statevector simulation: each qubit's one-probability
// is sin^2(theta_total/2) of its accumulated rotation angles, and the
// entanglement layout only induces pairwise bit correlations. That is enough
// for the hybrid loop, which treats the backend as opaque and only assumes
// the Batch contract plus a tolerable noise floor.
type Simulated struct {
	ansatz  ansatz.Ansatz
	mixing  float64
	rng     *rand.Rand
	mu      sync.Mutex
	log     zerolog.Logger
}

// SimulatedOption customizes the surrogate backend.
type SimulatedOption func(*Simulated)

// WithMixing overrides the pairwise correlation strength in [0, 1).
func WithMixing(mixing float64) SimulatedOption {
	return func(s *Simulated) { s.mixing = mixing }
}

// NewSimulated creates a seeded surrogate backend for the given ansatz.
func NewSimulated(a ansatz.Ansatz, seed int64, log zerolog.Logger, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		ansatz: a,
		mixing: 0.15,
		rng:    rand.New(rand.NewSource(seed)),
		log:    log.With().Str("component", "simulated_sampler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NumParameters returns the ansatz-derived expected theta length.
func (s *Simulated) NumParameters() int {
	return s.ansatz.NumParameters()
}

// Sample draws shots bitstrings. Frequencies always sum to shots and every
// key has length equal to the qubit count.
func (s *Simulated) Sample(ctx context.Context, theta []float64, shots int) (*Batch, error) {
	if err := validateRequest(s.ansatz.NumParameters(), theta, shots); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	probs := s.oneProbabilities(theta)
	pairs := s.coupledPairs()

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	bits := make([]byte, s.ansatz.Qubits)
	for shot := 0; shot < shots; shot++ {
		if shot%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for q := range bits {
			if s.rng.Float64() < probs[q] {
				bits[q] = '1'
			} else {
				bits[q] = '0'
			}
		}
		for _, p := range pairs {
			if s.rng.Float64() < s.mixing {
				bits[p[1]] = bits[p[0]]
			}
		}
		counts[string(bits)]++
	}

	return &Batch{Counts: counts, Shots: shots}, nil
}

// oneProbabilities folds every rotation layer into a single per-qubit angle.
func (s *Simulated) oneProbabilities(theta []float64) []float64 {
	n := s.ansatz.Qubits
	total := make([]float64, n)
	for i, v := range theta {
		total[i%n] += v
	}
	probs := make([]float64, n)
	for q, t := range total {
		v := math.Sin(t / 2)
		probs[q] = v * v
	}
	return probs
}

func (s *Simulated) coupledPairs() [][2]int {
	n := s.ansatz.Qubits
	var pairs [][2]int
	switch s.ansatz.Entanglement {
	case ansatz.EntanglementFull:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	case ansatz.EntanglementColor:
		// Alternating even/odd brickwork.
		for i := 0; i+1 < n; i += 2 {
			pairs = append(pairs, [2]int{i, i + 1})
		}
		for i := 1; i+1 < n; i += 2 {
			pairs = append(pairs, [2]int{i, i + 1})
		}
	default: // bilinear chain
		for i := 0; i+1 < n; i++ {
			pairs = append(pairs, [2]int{i, i + 1})
		}
	}
	return pairs
}
