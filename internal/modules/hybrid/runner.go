package hybrid

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/penalty"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
	"github.com/rougem/FinQuantOpt/internal/modules/sampler"
)

// SamplerFactory builds a fresh oracle per repetition so repetitions share no
// mutable state.
type SamplerFactory func(a ansatz.Ansatz, seed int64) (sampler.Sampler, error)

// Runner fans a run out over cfg.NumExec independent repetitions, at most
// cfg.MaxParallel in flight.
type Runner struct {
	log     zerolog.Logger
	factory SamplerFactory
}

func NewRunner(factory SamplerFactory, log zerolog.Logger) *Runner {
	return &Runner{
		log:     log.With().Str("component", "hybrid-runner").Logger(),
		factory: factory,
	}
}

// Run executes every repetition and aggregates the winner. A repetition that
// fails stops only itself; the outcome reports whichever repetitions
// completed. Run returns an error only when no repetition produced a result.
func (r *Runner) Run(ctx context.Context, model *problem.Model, a ansatz.Ansatz, penaltyCfg penalty.Config, cfg Config, onEpoch func(exec int, rec IterationRecord)) (Outcome, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return Outcome{}, err
	}
	objective, err := penalty.Compile(model, penaltyCfg)
	if err != nil {
		return Outcome{}, err
	}

	results := make([]*ExecResult, cfg.NumExec)
	errs := make([]error, cfg.NumExec)

	sem := make(chan struct{}, cfg.MaxParallel)
	var wg sync.WaitGroup
	for i := 0; i < cfg.NumExec; i++ {
		wg.Add(1)
		go func(exec int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			seed := cfg.Seed + int64(exec)
			res, err := r.runOne(ctx, model, a, objective, cfg, exec, seed, onEpoch)
			if err != nil {
				r.log.Error().Err(err).Int("exec", exec).Msg("repetition failed")
				errs[exec] = err
				return
			}
			results[exec] = &res
		}(i)
	}
	wg.Wait()

	out := Outcome{BestExec: -1, BestPenalizedCost: math.Inf(1)}
	for i, res := range results {
		if res == nil {
			continue
		}
		out.Execs = append(out.Execs, *res)
		if res.BestAssignment != nil && res.BestPenalizedCost < out.BestPenalizedCost {
			out.BestExec = i
			out.BestAssignment = res.BestAssignment
			out.BestPenalizedCost = res.BestPenalizedCost
			out.BestRawCost = res.BestRawCost
			out.Feasible = res.Feasible
		}
	}
	if len(out.Execs) == 0 {
		for _, err := range errs {
			if err != nil {
				return out, fmt.Errorf("all %d repetitions failed: %w", cfg.NumExec, err)
			}
		}
		return out, fmt.Errorf("run produced no repetitions")
	}
	return out, nil
}

func (r *Runner) runOne(ctx context.Context, model *problem.Model, a ansatz.Ansatz, objective penalty.Objective, cfg Config, exec int, seed int64, onEpoch func(int, IterationRecord)) (ExecResult, error) {
	oracle, err := r.factory(a, seed)
	if err != nil {
		return ExecResult{}, fmt.Errorf("building sampler for exec %d: %w", exec, err)
	}
	theta, err := a.InitialTheta(cfg.ThetaInitial, seed)
	if err != nil {
		return ExecResult{}, err
	}

	ctrl := NewController(model, objective, oracle, cfg, r.log)
	if onEpoch != nil {
		ctrl.OnEpoch = func(rec IterationRecord) { onEpoch(exec, rec) }
	}
	res, err := ctrl.Run(ctx, exec, seed, theta)
	if err != nil {
		return res, err
	}
	r.log.Info().
		Int("exec", exec).
		Int64("seed", seed).
		Bool("converged", res.Converged).
		Str("reason", res.Reason).
		Float64("best_cost", res.BestPenalizedCost).
		Bool("feasible", res.Feasible).
		Msg("repetition finished")
	return res, nil
}
