package hybrid

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/evaluator"
	"github.com/rougem/FinQuantOpt/internal/modules/nftopt"
	"github.com/rougem/FinQuantOpt/internal/modules/penalty"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
	"github.com/rougem/FinQuantOpt/internal/modules/refiner"
	"github.com/rougem/FinQuantOpt/internal/modules/sampler"
)

// Controller drives one repetition of the hybrid loop for a fixed model and
// sampler. It owns no goroutines; cancellation flows through the context.
type Controller struct {
	model     *problem.Model
	objective penalty.Objective
	oracle    sampler.Sampler
	cfg       Config
	log       zerolog.Logger

	// OnEpoch, when set, is invoked after each committed epoch with the
	// record that was just appended. Used for live progress streaming.
	OnEpoch func(IterationRecord)
}

// NewController assumes cfg has been normalized.
func NewController(model *problem.Model, objective penalty.Objective, oracle sampler.Sampler, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		model:     model,
		objective: objective,
		oracle:    oracle,
		cfg:       cfg,
		log:       log.With().Str("component", "hybrid-controller").Logger(),
	}
}

// Run executes one repetition starting from theta. The returned ExecResult
// carries the full epoch history even when err is non-nil, so partial runs
// remain inspectable.
func (c *Controller) Run(ctx context.Context, exec int, seed int64, theta []float64) (ExecResult, error) {
	res := ExecResult{
		Exec:              exec,
		Seed:              seed,
		BestPenalizedCost: math.Inf(1),
		Records:           make([]IterationRecord, 0, c.cfg.MaxEpoch),
	}

	eval := func(th []float64) (float64, error) {
		batch, err := c.sampleWithRetry(ctx, th)
		if err != nil {
			return 0, err
		}
		out, err := evaluator.Evaluate(batch, c.objective, c.cfg.Alpha)
		if err != nil {
			return 0, err
		}
		res.Evaluations++
		if out.BestCost < res.BestPenalizedCost {
			res.BestPenalizedCost = out.BestCost
			res.BestAssignment = out.BestAssignment.Clone()
		}
		return out.Cost, nil
	}

	opt := nftopt.New(nftopt.Config{
		MaxSweeps:      c.cfg.MaxEpoch,
		ThetaThreshold: c.cfg.ThetaThreshold,
	}, c.log)

	epochStart := time.Now()
	onSweep := func(sweep int, outcome nftopt.SweepOutcome) error {
		// Epochs are 1-based everywhere: records, export rows and the
		// timeout error all share the same numbering.
		rec := IterationRecord{
			Epoch:          sweep + 1,
			Theta:          append([]float64(nil), theta...),
			Cost:           outcome.LastCost,
			Duration:       time.Since(epochStart),
			BestAssignment: res.BestAssignment.Clone(),
			BestCost:       res.BestPenalizedCost,
		}
		res.Records = append(res.Records, rec)
		epochStart = time.Now()
		c.log.Debug().
			Int("exec", exec).
			Int("epoch", rec.Epoch).
			Float64("cost", rec.Cost).
			Float64("best_cost", rec.BestCost).
			Float64("max_delta", outcome.MaxDelta).
			Msg("epoch committed")
		if c.OnEpoch != nil {
			c.OnEpoch(rec)
		}
		return nil
	}

	optRes, err := opt.Optimize(theta, eval, onSweep)
	res.FinalTheta = append([]float64(nil), theta...)
	res.SkippedFits = optRes.SkippedFits
	res.Converged = optRes.Converged
	res.Reason = optRes.Reason
	if err != nil {
		var te *OracleTimeoutError
		if errors.As(err, &te) {
			te.Epoch = len(res.Records) + 1
		}
		res.Reason = "error"
		return res, err
	}

	c.refineBest(&res)

	if res.BestAssignment != nil {
		res.BestRawCost = c.model.BaseCost(res.BestAssignment)
		res.Feasible = c.model.IsFeasible(res.BestAssignment)
	}
	return res, nil
}

// sampleWithRetry applies the oracle deadline and, when configured, retries
// a timed-out call exactly once before surfacing OracleTimeoutError.
func (c *Controller) sampleWithRetry(ctx context.Context, theta []float64) (*sampler.Batch, error) {
	attempts := 2
	if c.cfg.DisableRetry {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.OracleTimeout)
		batch, err := c.oracle.Sample(callCtx, theta, c.cfg.Shots)
		cancel()
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, err
		}
		c.log.Warn().Err(err).Int("attempt", i+1).Msg("sampling oracle timed out")
	}
	return nil, &OracleTimeoutError{Timeout: c.cfg.OracleTimeout, Epoch: -1}
}

// refineBest runs local search over the penalized objective starting from the
// best sampled assignment. The refiner never worsens the incumbent.
func (c *Controller) refineBest(res *ExecResult) {
	if res.BestAssignment == nil {
		return
	}
	out := refiner.New(c.cfg.Refine, c.log).Refine(res.BestAssignment, c.objective)
	if out.Cost < res.BestPenalizedCost {
		c.log.Debug().
			Int("exec", res.Exec).
			Float64("before", res.BestPenalizedCost).
			Float64("after", out.Cost).
			Int("evaluations", out.Evaluations).
			Msg("local search improved best assignment")
		res.BestAssignment = out.Assignment
		res.BestPenalizedCost = out.Cost
		res.Refined = true
	}
}
