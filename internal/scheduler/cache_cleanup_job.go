package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/modules/drift"
)

// Retention windows for ephemeral cache.db data.
const (
	jobHistoryRetention = 30 * 24 * time.Hour
	driftRetention      = 90 * 24 * time.Hour
)

// CacheCleanupJob prunes aged job history and drift observations.
type CacheCleanupJob struct {
	history   *HistoryRepository
	driftRepo *drift.Repository
	log       zerolog.Logger
}

// NewCacheCleanupJob creates the cache cleanup job.
func NewCacheCleanupJob(history *HistoryRepository, driftRepo *drift.Repository, log zerolog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		history:   history,
		driftRepo: driftRepo,
		log:       log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Name returns the job name.
func (j *CacheCleanupJob) Name() string { return "cache_cleanup" }

// Run prunes past-retention rows.
func (j *CacheCleanupJob) Run() error {
	now := time.Now()

	historyRemoved, err := j.history.Cleanup(now.Add(-jobHistoryRetention))
	if err != nil {
		return err
	}

	driftRemoved, err := j.driftRepo.Prune(now.Add(-driftRetention))
	if err != nil {
		return err
	}

	j.log.Info().
		Int64("job_history_removed", historyRemoved).
		Int64("drift_points_removed", driftRemoved).
		Msg("Cache cleanup finished")
	return nil
}
