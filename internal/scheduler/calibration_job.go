package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/modules/experiments"
)

// CalibrationRunner is the slice of the experiments service the calibration
// job needs.
type CalibrationRunner interface {
	RunSync(experiment string, req experiments.RunRequest) (*experiments.Run, error)
}

// CalibrationJob runs the nightly semicircle validation on the simulator.
// It keeps a fresh baseline in the drift series: run completion feeds the
// per-run mean q error to the drift monitor.
type CalibrationJob struct {
	runner CalibrationRunner
	log    zerolog.Logger
}

// NewCalibrationJob creates the nightly calibration job.
func NewCalibrationJob(runner CalibrationRunner, log zerolog.Logger) *CalibrationJob {
	return &CalibrationJob{
		runner: runner,
		log:    log.With().Str("job", "nightly_calibration").Logger(),
	}
}

// Name returns the job name.
func (j *CalibrationJob) Name() string { return "nightly_calibration" }

// Run executes the calibration sweep synchronously.
func (j *CalibrationJob) Run() error {
	run, err := j.runner.RunSync(experiments.TypeSemicircle, experiments.RunRequest{})
	if err != nil {
		return err
	}
	if run.Status == experiments.StatusFailed {
		return fmt.Errorf("calibration run %s failed: %s", run.ID, run.Error)
	}

	passed := run.Passed != nil && *run.Passed
	j.log.Info().
		Str("run_id", run.ID).
		Bool("passed", passed).
		Msg("Calibration sweep finished")
	if !passed {
		return fmt.Errorf("calibration run %s did not pass", run.ID)
	}
	return nil
}
