package scheduler

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/modules/drift"
)

// DriftChecker is the slice of the drift monitor the check job needs.
type DriftChecker interface {
	Check(backend string) (*drift.Status, error)
}

// DriftCheckJob re-evaluates every backend's drift series. Alert events are
// emitted by the monitor itself.
type DriftCheckJob struct {
	checker  DriftChecker
	backends func() []string
	log      zerolog.Logger
}

// NewDriftCheckJob creates the drift check job. The backends func supplies
// the current registry names.
func NewDriftCheckJob(checker DriftChecker, backends func() []string, log zerolog.Logger) *DriftCheckJob {
	return &DriftCheckJob{
		checker:  checker,
		backends: backends,
		log:      log.With().Str("job", "drift_check").Logger(),
	}
}

// Name returns the job name.
func (j *DriftCheckJob) Name() string { return "drift_check" }

// Run checks every backend that has accumulated drift data.
func (j *DriftCheckJob) Run() error {
	for _, backend := range j.backends() {
		status, err := j.checker.Check(backend)
		if err != nil {
			// Backends with no runs yet have no series; that is not a
			// job failure.
			if errors.Is(err, drift.ErrNoData) {
				continue
			}
			return err
		}
		j.log.Debug().
			Str("backend", backend).
			Float64("ema", status.EMA).
			Bool("drifting", status.Drifting).
			Msg("Drift evaluated")
	}
	return nil
}
