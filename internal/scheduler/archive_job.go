package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rougem/FinQuantOpt/internal/reliability"
)

// ArchiveJob uploads completed run exports to object storage and rotates
// archives past the retention period.
type ArchiveJob struct {
	archive       *reliability.ArchiveService
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewArchiveJob creates a new archive job
func NewArchiveJob(archive *reliability.ArchiveService, retentionDays int, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archive:       archive,
		retentionDays: retentionDays,
		timeout:       10 * time.Minute,
		log:           log.With().Str("job", "run_archive").Logger(),
	}
}

// Run executes the archive job
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	count, err := j.archive.ArchivePending(ctx)
	if err != nil {
		return err
	}
	j.log.Info().Int("archived", count).Msg("Run archive upload completed")

	if err := j.archive.RotateOldArchives(ctx, j.retentionDays); err != nil {
		j.log.Error().Err(err).Msg("Archive rotation failed")
		// Uploads succeeded, rotation retries next cycle
	}
	return nil
}

// Name returns the job name for scheduler
func (j *ArchiveJob) Name() string {
	return "run_archive"
}
