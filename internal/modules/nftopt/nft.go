// Package nftopt implements the NFT-style derivative-free parameter
// optimizer: coordinate-wise closed-form minimization of a sinusoidal
// restriction of the objective.
package nftopt

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// EvalFunc evaluates the full objective at a parameter vector. The slice is
// owned by the optimizer; implementations must not retain or mutate it.
type EvalFunc func(theta []float64) (float64, error)

// Config holds optimizer tuning knobs.
type Config struct {
	// MaxSweeps bounds the number of full coordinate sweeps.
	MaxSweeps int
	// ThetaThreshold declares convergence when the largest parameter change
	// within a sweep falls below it. Zero disables the check, so the
	// optimizer always runs MaxSweeps sweeps.
	ThetaThreshold float64
	// AmplitudeFloor guards the closed-form fit: a fitted sinusoid whose
	// amplitude falls below the floor is treated as degenerate and the
	// coordinate update is skipped for that sweep.
	AmplitudeFloor float64
}

// DefaultConfig mirrors the experiment defaults.
func DefaultConfig() Config {
	return Config{
		MaxSweeps:      4,
		ThetaThreshold: 0.06,
		AmplitudeFloor: 1e-12,
	}
}

// SweepOutcome summarizes one full pass over the parameter vector.
type SweepOutcome struct {
	// MaxDelta is the largest absolute angular change committed in the sweep.
	MaxDelta float64
	// Skipped counts coordinates whose three-point fit was degenerate.
	Skipped int
	// LastCost is the objective value at the final committed vector.
	LastCost float64
	// Evaluations is the number of EvalFunc calls consumed.
	Evaluations int
}

// Optimizer updates one coordinate at a time. Holding every other
// coordinate fixed, the objective restricted to a rotation angle is a single
// sinusoid of period 2*pi, so three probes at known phase offsets determine
// amplitude, phase and offset in closed form and the analytic minimum is
// committed directly. The sweep state is an explicit index into the vector.
type Optimizer struct {
	cfg Config
	log zerolog.Logger
}

// New creates an optimizer.
func New(cfg Config, log zerolog.Logger) *Optimizer {
	if cfg.MaxSweeps <= 0 {
		cfg.MaxSweeps = DefaultConfig().MaxSweeps
	}
	if cfg.AmplitudeFloor <= 0 {
		cfg.AmplitudeFloor = DefaultConfig().AmplitudeFloor
	}
	return &Optimizer{
		cfg: cfg,
		log: log.With().Str("component", "nft_optimizer").Logger(),
	}
}

// Sweep performs one full coordinate pass over theta in place.
//
// Per coordinate: probe the objective at the current angle and at +/- pi/2
// offsets, fit f(x) = offset + amplitude*cos(x - phase), and commit the
// analytic minimum phase + pi. A degenerate fit (amplitude below the floor,
// or any probe not finite) skips the coordinate for this sweep and is logged
// as a non-fatal anomaly.
func (o *Optimizer) Sweep(theta []float64, eval EvalFunc) (SweepOutcome, error) {
	var out SweepOutcome

	for k := 0; k < len(theta); k++ {
		base := theta[k]

		z1, err := o.probe(theta, k, base, eval, &out)
		if err != nil {
			return out, err
		}
		z2, err := o.probe(theta, k, base+math.Pi/2, eval, &out)
		if err != nil {
			return out, err
		}
		z3, err := o.probe(theta, k, base-math.Pi/2, eval, &out)
		if err != nil {
			return out, err
		}

		// f(x) = c + A*cos(x - phi) gives:
		//   z1 = c + A*cos(base - phi)
		//   z2 = c - A*sin(base - phi)
		//   z3 = c + A*sin(base - phi)
		offset := (z2 + z3) / 2
		cosPart := z1 - offset
		sinPart := (z3 - z2) / 2
		amplitude := math.Hypot(cosPart, sinPart)

		if !isFinite(z1) || !isFinite(z2) || !isFinite(z3) || amplitude < o.cfg.AmplitudeFloor {
			out.Skipped++
			theta[k] = base
			out.LastCost = z1
			o.log.Warn().
				Int("coordinate", k).
				Float64("amplitude", amplitude).
				Msg("Degenerate three-point fit, skipping coordinate update")
			continue
		}

		phase := base - math.Atan2(sinPart, cosPart)
		minimum := phase + math.Pi

		theta[k] = wrapAngle(minimum)
		out.LastCost = offset - amplitude

		delta := math.Abs(angularDistance(base, theta[k]))
		if delta > out.MaxDelta {
			out.MaxDelta = delta
		}
	}

	return out, nil
}

// Result is the terminal state of an optimization.
type Result struct {
	Sweeps      int
	Converged   bool
	Reason      string
	FinalCost   float64
	Evaluations int
	SkippedFits int
}

// Optimize runs sweeps until convergence or the sweep budget is exhausted.
// onSweep, when non-nil, observes each completed sweep; the hybrid run
// controller uses it to persist per-epoch records.
func (o *Optimizer) Optimize(theta []float64, eval EvalFunc, onSweep func(sweep int, outcome SweepOutcome) error) (Result, error) {
	var res Result
	if len(theta) == 0 {
		return res, fmt.Errorf("cannot optimize an empty parameter vector")
	}

	for sweep := 0; sweep < o.cfg.MaxSweeps; sweep++ {
		outcome, err := o.Sweep(theta, eval)
		res.Sweeps = sweep + 1
		res.Evaluations += outcome.Evaluations
		res.SkippedFits += outcome.Skipped
		res.FinalCost = outcome.LastCost
		if err != nil {
			return res, err
		}
		if onSweep != nil {
			if err := onSweep(sweep, outcome); err != nil {
				return res, err
			}
		}
		if o.cfg.ThetaThreshold > 0 && outcome.MaxDelta < o.cfg.ThetaThreshold {
			res.Converged = true
			res.Reason = fmt.Sprintf("max theta change %.4g below threshold %.4g", outcome.MaxDelta, o.cfg.ThetaThreshold)
			return res, nil
		}
	}

	res.Reason = "sweep budget exhausted"
	return res, nil
}

func (o *Optimizer) probe(theta []float64, k int, value float64, eval EvalFunc, out *SweepOutcome) (float64, error) {
	saved := theta[k]
	theta[k] = value
	cost, err := eval(theta)
	theta[k] = saved
	if err != nil {
		return 0, err
	}
	out.Evaluations++
	return cost, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// wrapAngle maps an angle into (-pi, pi].
func wrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// angularDistance is the smallest signed difference between two angles.
func angularDistance(from, to float64) float64 {
	return wrapAngle(to - from)
}
