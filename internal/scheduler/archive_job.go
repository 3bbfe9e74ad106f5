package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Uploader is the slice of the archive service the upload job needs.
type Uploader interface {
	Upload(ctx context.Context) (string, error)
	Rotate(ctx context.Context) (int, error)
}

// ArchiveJob uploads the results archive to object storage and rotates old
// archives past the retention limit.
type ArchiveJob struct {
	uploader Uploader
	timeout  time.Duration
	log      zerolog.Logger
}

// NewArchiveJob creates the daily archive job.
func NewArchiveJob(uploader Uploader, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		uploader: uploader,
		timeout:  10 * time.Minute,
		log:      log.With().Str("job", "archive_upload").Logger(),
	}
}

// Name returns the job name.
func (j *ArchiveJob) Name() string { return "archive_upload" }

// Run uploads a fresh archive and prunes stale ones.
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	key, err := j.uploader.Upload(ctx)
	if err != nil {
		return err
	}
	j.log.Info().Str("key", key).Msg("Archive uploaded")

	removed, err := j.uploader.Rotate(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int("removed", removed).Msg("Old archives rotated")
	}
	return nil
}
