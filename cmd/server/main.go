// Package main is the entry point for the FinQuantOpt hybrid portfolio
// optimization service. It wires the problem registry, the variational run
// engine, the classical baseline and the HTTP API, then blocks until a
// shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/config"
	"github.com/rougem/FinQuantOpt/internal/database"
	"github.com/rougem/FinQuantOpt/internal/events"
	"github.com/rougem/FinQuantOpt/internal/modules/ansatz"
	"github.com/rougem/FinQuantOpt/internal/modules/baseline"
	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
	"github.com/rougem/FinQuantOpt/internal/modules/problem"
	"github.com/rougem/FinQuantOpt/internal/modules/sampler"
	"github.com/rougem/FinQuantOpt/internal/reliability"
	"github.com/rougem/FinQuantOpt/internal/scheduler"
	"github.com/rougem/FinQuantOpt/internal/server"
	"github.com/rougem/FinQuantOpt/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting FinQuantOpt")

	// Two databases: append-only run history and the problem registry.
	resultsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileResults,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()

	problemsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "problems.db"),
		Profile: database.ProfileStandard,
		Name:    "problems",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open problems database")
	}
	defer problemsDB.Close()

	for _, db := range []*database.DB{resultsDB, problemsDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	bus := events.NewBus(log)

	problemRepo := problem.NewRepository(problemsDB.Conn(), log)
	runRepo := hybrid.NewRepository(resultsDB.Conn(), log)

	// The sampling oracle: a remote service when configured, otherwise the
	// in-process simulator.
	factory := simulatedFactory(log)
	if cfg.SamplerServiceURL != "" {
		factory = remoteFactory(cfg.SamplerServiceURL, log)
		log.Info().Str("url", cfg.SamplerServiceURL).Msg("Using remote sampling oracle")
	}
	runner := hybrid.NewRunner(factory, log)

	// Classical reference: exact-solver sidecar with relaxation fallback.
	var baselineClient *baseline.Client
	if cfg.SolverServiceURL != "" {
		baselineClient = baseline.NewClient(cfg.SolverServiceURL, log)
		log.Info().Str("url", cfg.SolverServiceURL).Msg("Using exact-solver baseline")
	}
	baselineProvider := baseline.NewProvider(baselineClient, baseline.DefaultRelaxConfig(), log)

	runService := hybrid.NewService(problemRepo, runRepo, runner, baselineProvider, bus, log)

	// Background jobs: history cleanup, maintenance and optional archiving.
	sched := scheduler.New(log)
	databases := map[string]*database.DB{"results": resultsDB, "problems": problemsDB}

	cleanupJob := scheduler.NewHistoryCleanupJob(runRepo, cfg.RunRetentionDays, log)
	if err := sched.AddJob(cfg.CleanupSchedule, cleanupJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cleanup job")
	}
	if err := sched.AddJob("0 0 2 * * *", reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register daily maintenance job")
	}
	if err := sched.AddJob("0 0 4 * * 0", reliability.NewWeeklyMaintenanceJob(databases, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register weekly maintenance job")
	}

	if cfg.Archive.Enabled() {
		s3Client, err := reliability.NewS3Client(
			cfg.Archive.Endpoint,
			cfg.Archive.Region,
			cfg.Archive.Bucket,
			cfg.Archive.AccessKeyID,
			cfg.Archive.SecretAccessKey,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive client")
		}
		archiveService := reliability.NewArchiveService(s3Client, runRepo, cfg.DataDir, log)
		archiveJob := scheduler.NewArchiveJob(archiveService, cfg.Archive.RetentionDays, log)
		if err := sched.AddJob(cfg.ArchiveSchedule, archiveJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register archive job")
		}
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Run archiving enabled")
	} else {
		log.Info().Msg("Run archiving disabled (no S3 credentials)")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:         log,
		Cfg:         cfg,
		ResultsDB:   resultsDB,
		ProblemsDB:  problemsDB,
		Bus:         bus,
		ProblemRepo: problemRepo,
		RunRepo:     runRepo,
		RunService:  runService,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Cancel active runs and wait for their goroutines to persist results.
	runService.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// simulatedFactory builds an in-process sampling oracle per repetition.
func simulatedFactory(log zerolog.Logger) hybrid.SamplerFactory {
	return func(a ansatz.Ansatz, seed int64) (sampler.Sampler, error) {
		return sampler.NewSimulated(a, seed, log), nil
	}
}

// remoteFactory builds a client for an external sampling service.
func remoteFactory(baseURL string, log zerolog.Logger) hybrid.SamplerFactory {
	return func(a ansatz.Ansatz, seed int64) (sampler.Sampler, error) {
		return sampler.NewRemote(baseURL, a.NumParameters(), log), nil
	}
}
