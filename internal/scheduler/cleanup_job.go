package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/modules/hybrid"
)

// HistoryCleanupJob purges finished runs older than the retention period.
// Pending and running runs are never touched.
type HistoryCleanupJob struct {
	runs          *hybrid.Repository
	retentionDays int
	log           zerolog.Logger
}

// NewHistoryCleanupJob creates a new history cleanup job
func NewHistoryCleanupJob(runs *hybrid.Repository, retentionDays int, log zerolog.Logger) *HistoryCleanupJob {
	return &HistoryCleanupJob{
		runs:          runs,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "history_cleanup").Logger(),
	}
}

// Run executes the cleanup job
func (j *HistoryCleanupJob) Run() error {
	if j.retentionDays <= 0 {
		j.log.Debug().Msg("Retention disabled, skipping cleanup")
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	deleted, err := j.runs.DeleteRunsBefore(cutoff)
	if err != nil {
		return err
	}

	j.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Run history cleanup completed")
	return nil
}

// Name returns the job name for scheduler
func (j *HistoryCleanupJob) Name() string {
	return "history_cleanup"
}
