// Package evaluator maps sampled bit-assignments to objective values and
// aggregates them with a CVaR-style tail average.
package evaluator

import (
	"fmt"
	"math"
	"sort"

	"github.com/rougem/FinQuantOpt/internal/modules/penalty"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
	"github.com/rougem/FinQuantOpt/internal/modules/sampler"
)

// Result is one aggregated evaluation of a sample batch.
type Result struct {
	// Cost is the CVaR tail average of the penalized objective over the
	// batch: the frequency-weighted mean of the lowest alpha fraction of
	// sampled costs.
	Cost float64
	// BestAssignment is the lowest-cost distinct assignment observed in the
	// batch, with BestCost its penalized objective value.
	BestAssignment problem.Assignment
	BestCost       float64
}

// Evaluate scores every distinct assignment in the batch and aggregates.
//
// Costs are sorted ascending and the weighted mean of the lowest alpha
// fraction (by cumulative sample frequency) is returned, which emphasizes
// the favorable tail and makes the optimizer robust to sampling noise on
// the unfavorable one. alpha must lie in (0, 1]; alpha = 1 degenerates to
// the plain frequency-weighted mean. Batches too small to fill the tail
// fraction are used in full.
func Evaluate(batch *sampler.Batch, objective penalty.Objective, alpha float64) (Result, error) {
	if batch == nil || batch.Shots <= 0 || len(batch.Counts) == 0 {
		return Result{}, fmt.Errorf("evaluate requires a non-empty sample batch")
	}
	if alpha <= 0 || alpha > 1 {
		return Result{}, fmt.Errorf("alpha must be in (0, 1], got %g", alpha)
	}

	type scored struct {
		assignment problem.Assignment
		cost       float64
		freq       int
	}

	entries := make([]scored, 0, len(batch.Counts))
	for key, freq := range batch.Counts {
		if freq <= 0 {
			continue
		}
		a, err := problem.ParseAssignment(key)
		if err != nil {
			return Result{}, fmt.Errorf("invalid assignment in batch: %w", err)
		}
		entries = append(entries, scored{assignment: a, cost: objective(a), freq: freq})
	}
	if len(entries) == 0 {
		return Result{}, fmt.Errorf("evaluate requires a non-empty sample batch")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].cost < entries[j].cost })

	// Tail budget in shot units, never below one shot so a tiny alpha still
	// averages something.
	budget := alpha * float64(batch.Shots)
	if budget < 1 {
		budget = 1
	}

	remaining := budget
	weighted := 0.0
	for _, e := range entries {
		w := math.Min(remaining, float64(e.freq))
		weighted += w * e.cost
		remaining -= w
		if remaining <= 0 {
			break
		}
	}
	used := budget - math.Max(remaining, 0)

	return Result{
		Cost:           weighted / used,
		BestAssignment: entries[0].assignment,
		BestCost:       entries[0].cost,
	}, nil
}
