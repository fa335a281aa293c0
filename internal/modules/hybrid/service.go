package hybrid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/events"
	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/baseline"
	"github.com/rougem/FinQuantOpt/internal/modules/penalty"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
)

// AnsatzSpec is the caller-facing ansatz request. Qubits always equal the
// problem's variable count and are not part of the request.
type AnsatzSpec struct {
	Family       ansatz.Family       `json:"family"`
	Reps         int                 `json:"reps"`
	Entanglement ansatz.Entanglement `json:"entanglement"`
}

// RunRequest is everything needed to launch a run against a stored problem.
type RunRequest struct {
	ProblemName string         `json:"problem_name"`
	Ansatz      AnsatzSpec     `json:"ansatz"`
	Config      Config         `json:"config"`
	Penalty     penalty.Config `json:"penalty"`
}

// Service owns the run lifecycle: launch, background execution, persistence,
// baseline comparison and cancellation.
type Service struct {
	problems *problem.Repository
	runs     *Repository
	runner   *Runner
	baseline *baseline.Provider
	bus      *events.Bus
	log      zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new run service. The baseline provider and event bus
// are optional.
func NewService(problems *problem.Repository, runs *Repository, runner *Runner, baselineProvider *baseline.Provider, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		problems: problems,
		runs:     runs,
		runner:   runner,
		baseline: baselineProvider,
		bus:      bus,
		log:      log.With().Str("service", "hybrid").Logger(),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// StartRun validates the request, persists a pending run header and launches
// execution in the background. The returned run header carries the ID used to
// poll progress.
func (s *Service) StartRun(req RunRequest) (*Run, error) {
	stored, err := s.problems.Get(req.ProblemName)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("unknown problem %q", req.ProblemName)
	}

	cfg, err := req.Config.Normalize()
	if err != nil {
		return nil, err
	}
	if req.Penalty.DefaultCoefficient == 0 {
		req.Penalty = penalty.DefaultConfig()
	}
	if req.Ansatz.Reps == 0 {
		req.Ansatz.Reps = 1
	}
	if req.Ansatz.Family == "" {
		req.Ansatz.Family = ansatz.FamilyTwoLocal
	}
	a, err := ansatz.New(req.Ansatz.Family, stored.Model.NumVariables(), req.Ansatz.Reps, req.Ansatz.Entanglement)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:          uuid.NewString(),
		ProblemName: req.ProblemName,
		Status:      StatusPending,
		Config:      cfg,
		Ansatz:      a,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.runs.CreateRun(run); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancels, run.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.execute(ctx, run, stored.Model, a, req.Penalty, cfg)
	}()

	return run, nil
}

func (s *Service) execute(ctx context.Context, run *Run, model *problem.Model, a ansatz.Ansatz, penaltyCfg penalty.Config, cfg Config) {
	if err := s.runs.MarkRunning(run.ID); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("failed to mark run running")
	}
	events.EmitTyped(s.bus, "hybrid", &events.RunStartedData{
		RunID:   run.ID,
		Problem: run.ProblemName,
		NumExec: cfg.NumExec,
	})

	onEpoch := func(exec int, rec IterationRecord) {
		if err := s.runs.SaveIteration(run.ID, exec, rec); err != nil {
			s.log.Error().Err(err).Str("run_id", run.ID).Int("exec", exec).Msg("failed to persist iteration")
		}
		events.EmitTyped(s.bus, "hybrid", &events.EpochRecordedData{
			RunID:    run.ID,
			Exec:     exec,
			Epoch:    rec.Epoch,
			Cost:     rec.Cost,
			BestCost: rec.BestCost,
		})
	}

	out, err := s.runner.Run(ctx, model, a, penaltyCfg, cfg, onEpoch)
	for _, res := range out.Execs {
		if saveErr := s.runs.SaveExecResult(run.ID, res); saveErr != nil {
			s.log.Error().Err(saveErr).Str("run_id", run.ID).Int("exec", res.Exec).Msg("failed to persist exec result")
		}
	}
	if err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("run failed")
		if dbErr := s.runs.FailRun(run.ID, err); dbErr != nil {
			s.log.Error().Err(dbErr).Str("run_id", run.ID).Msg("failed to persist run failure")
		}
		events.EmitTyped(s.bus, "hybrid", &events.RunFailedData{RunID: run.ID, Error: err.Error()})
		return
	}

	baselineCost, baselineSource, gap := s.compareToBaseline(ctx, model, &out)
	if err := s.runs.CompleteRun(run.ID, &out, baselineCost, baselineSource, gap); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist run outcome")
	}

	data := &events.RunCompletedData{
		RunID:    run.ID,
		Problem:  run.ProblemName,
		BestCost: out.BestPenalizedCost,
		RawCost:  out.BestRawCost,
		Feasible: out.Feasible,
		Gap:      gap,
	}
	events.EmitTyped(s.bus, "hybrid", data)
	s.log.Info().
		Str("run_id", run.ID).
		Str("problem", run.ProblemName).
		Float64("best_cost", out.BestPenalizedCost).
		Bool("feasible", out.Feasible).
		Msg("run completed")
}

// compareToBaseline resolves a classical reference and the relative gap of
// the run's best raw cost. Baseline failures degrade to an absent gap rather
// than failing the run.
func (s *Service) compareToBaseline(ctx context.Context, model *problem.Model, out *Outcome) (*float64, string, *float64) {
	if s.baseline == nil || out.BestAssignment == nil {
		return nil, "", nil
	}
	refCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	ref, err := s.baseline.Reference(refCtx, model)
	if err != nil {
		s.log.Warn().Err(err).Str("model", model.Name).Msg("baseline reference unavailable")
		return nil, "", nil
	}
	events.EmitTyped(s.bus, "baseline", &events.BaselineReadyData{
		Problem:  model.Name,
		Cost:     ref.Cost,
		Source:   ref.Source,
		Feasible: ref.Feasible,
	})

	gap := baseline.Gap(out.BestRawCost, ref.Cost)
	return &ref.Cost, ref.Source, &gap
}

// CancelRun stops a running run. Returns false when the run is not active.
func (s *Service) CancelRun(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns returns the IDs of runs still executing.
func (s *Service) ActiveRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.cancels))
	for id := range s.cancels {
		ids = append(ids, id)
	}
	return ids
}

// GetRun loads a run header.
func (s *Service) GetRun(runID string) (*Run, error) {
	return s.runs.GetRun(runID)
}

// ListRuns lists run headers, optionally filtered by problem.
func (s *Service) ListRuns(problemName string, limit int) ([]*Run, error) {
	return s.runs.ListRuns(problemName, limit)
}

// GetIterations loads the epoch history of one repetition.
func (s *Service) GetIterations(runID string, exec int) ([]IterationRecord, error) {
	return s.runs.GetIterations(runID, exec)
}

// ExportRecords renders the epoch history in the frozen external schema.
func (s *Service) ExportRecords(runID string, exec int) ([]ExportRecord, error) {
	return s.runs.ExportRecords(runID, exec)
}

// Wait blocks until all background runs have finished. Used during shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every active run and waits for completion.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
