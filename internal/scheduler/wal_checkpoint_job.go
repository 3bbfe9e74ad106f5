package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/database"
)

// WALCheckpointJob forces periodic WAL checkpoints so the write-ahead logs
// cannot grow without bound between organic checkpoints.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates the WAL checkpoint job.
func NewWALCheckpointJob(databases []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name.
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Run checkpoints every database.
func (j *WALCheckpointJob) Run() error {
	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return err
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint complete")
	}
	return nil
}
