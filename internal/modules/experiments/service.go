package experiments

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/analysis"
	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/events"
)

// runner executes one experiment sweep and reports its details and verdict.
type runner func(ctx context.Context, p Params, sink Sink) (interface{}, bool, error)

var runners = map[string]runner{
	TypeSemicircle:    runSemicircle,
	TypeOptimalPoint:  runOptimalPoint,
	TypeBarrenPlateau: runBarrenPlateau,
}

// ServiceConfig carries the shot-count defaults.
type ServiceConfig struct {
	DefaultShots  int // simulator runs
	HardwareShots int // per hardware job
}

// targeted is implemented by backends bound to a specific hardware target.
type targeted interface {
	Target() string
}

// Service orchestrates experiment runs: it resolves the backend, enforces
// cost confirmation on paid targets, executes the sweep asynchronously, and
// persists runs, measurements, and summaries.
type Service struct {
	ctx      context.Context // root context: runs stop on shutdown
	repo     *Repository
	registry *backends.Registry
	// simFactory builds a fresh seeded simulator per run so that runs are
	// reproducible independent of each other.
	simFactory func(seed int64) backends.Backend
	bus        *events.Bus
	cfg        ServiceConfig
	log        zerolog.Logger
}

// NewService creates the experiments service.
func NewService(
	ctx context.Context,
	repo *Repository,
	registry *backends.Registry,
	simFactory func(seed int64) backends.Backend,
	bus *events.Bus,
	cfg ServiceConfig,
	log zerolog.Logger,
) *Service {
	if cfg.DefaultShots <= 0 {
		cfg.DefaultShots = 1000
	}
	if cfg.HardwareShots <= 0 {
		cfg.HardwareShots = 52
	}
	return &Service{
		ctx:        ctx,
		repo:       repo,
		registry:   registry,
		simFactory: simFactory,
		bus:        bus,
		cfg:        cfg,
		log:        log.With().Str("service", "experiments").Logger(),
	}
}

// Repo exposes the repository for read-side handlers.
func (s *Service) Repo() *Repository {
	return s.repo
}

// Estimate computes the pre-submission cost floor for a planned run.
func (s *Service) Estimate(experiment string, req RunRequest) (backends.CostEstimate, error) {
	if _, ok := runners[experiment]; !ok {
		return backends.CostEstimate{}, fmt.Errorf("unknown experiment %q", experiment)
	}

	_, target, hardware, err := s.resolveBackend(req.Backend)
	if err != nil {
		return backends.CostEstimate{}, err
	}

	shots := s.shotsFor(req, hardware)
	jobs := expectedJobs(experiment, req.Grid, hardware)
	return backends.Estimate(target, jobs, shots)
}

// StartRun validates the request, records the run, and launches the sweep
// in the background. Returns the run in running status.
func (s *Service) StartRun(experiment string, req RunRequest) (*Run, error) {
	run, execute, params, err := s.prepare(experiment, req)
	if err != nil {
		return nil, err
	}
	go s.execute(run, execute, params)
	return run, nil
}

// RunSync executes a run to completion on the caller's goroutine. Used by
// scheduled jobs, which want the outcome in their own history.
func (s *Service) RunSync(experiment string, req RunRequest) (*Run, error) {
	run, execute, params, err := s.prepare(experiment, req)
	if err != nil {
		return nil, err
	}
	s.execute(run, execute, params)
	return s.repo.GetRun(run.ID)
}

// prepare validates a request and records the run in running status.
func (s *Service) prepare(experiment string, req RunRequest) (*Run, runner, Params, error) {
	execute, ok := runners[experiment]
	if !ok {
		return nil, nil, Params{}, fmt.Errorf("unknown experiment %q", experiment)
	}

	backend, target, hardware, err := s.resolveBackend(req.Backend)
	if err != nil {
		return nil, nil, Params{}, err
	}
	local := req.Backend == "" || req.Backend == "simulator"

	shots := s.shotsFor(req, hardware)
	jobs := expectedJobs(experiment, req.Grid, hardware)

	if hardware {
		estimate, err := backends.Estimate(target, jobs, shots)
		if err != nil {
			return nil, nil, Params{}, err
		}
		if !estimate.Free && !req.Confirm {
			return nil, nil, Params{}, fmt.Errorf("target %s bills a minimum of $%.2f for %d jobs; set confirm to proceed",
				target, estimate.TotalMinimum, estimate.Jobs)
		}
		s.log.Info().
			Str("target", target).
			Int("jobs", estimate.Jobs).
			Float64("minimum_usd", estimate.TotalMinimum).
			Msg("Hardware run confirmed")
	}

	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}
	if local {
		// A fresh simulator per run keeps the whole sweep a pure function
		// of the seed. Remote backends keep their registered client even
		// when the gateway points at the provider's cloud simulator.
		backend = s.simFactory(seed)
	}

	run := &Run{
		ID:         uuid.New().String(),
		Experiment: experiment,
		Backend:    backend.Name(),
		Target:     target,
		Shots:      shots,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
	if local {
		run.Seed = &seed
	}

	if err := s.repo.CreateRun(run); err != nil {
		return nil, nil, Params{}, err
	}

	s.bus.EmitTyped("experiments", &events.RunStartedData{
		RunID:      run.ID,
		Experiment: experiment,
		Backend:    run.Backend,
		Shots:      shots,
		Points:     jobs,
	})

	params := Params{
		Backend:  backend,
		Shots:    shots,
		Grid:     req.Grid,
		Rand:     rand.New(rand.NewSource(seed)),
		Hardware: hardware,
	}

	return run, execute, params, nil
}

// execute drives one run to a terminal status.
func (s *Service) execute(run *Run, execute runner, params Params) {
	started := time.Now()
	sink := &runSink{service: s, run: run}

	details, passed, err := execute(s.ctx, params, sink)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Run failed")
		if dbErr := s.repo.FailRun(run.ID, err.Error()); dbErr != nil {
			s.log.Error().Err(dbErr).Str("run_id", run.ID).Msg("Failed to record run failure")
		}
		s.bus.EmitTyped("experiments", &events.RunFailedData{RunID: run.ID, Error: err.Error()})
		return
	}

	stats := sink.stats()
	if stats != nil && !stats.CorrelationOK {
		passed = false
	}

	summary := RunSummary{
		Experiment: run.Experiment,
		Passed:     passed,
		Details:    details,
		Stats:      stats,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to marshal summary")
		summaryJSON = []byte("{}")
	}

	if err := s.repo.CompleteRun(run.ID, passed, string(summaryJSON)); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run completion")
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("experiment", run.Experiment).
		Bool("passed", passed).
		Dur("duration", time.Since(started)).
		Msg("Run completed")

	s.bus.EmitTyped("experiments", &events.RunCompletedData{
		RunID:      run.ID,
		Experiment: run.Experiment,
		Passed:     passed,
		Duration:   time.Since(started).Seconds(),
	})
}

// resolveBackend maps a request backend name to a registered backend, its
// target, and whether it is a paid hardware sweep.
func (s *Service) resolveBackend(name string) (backends.Backend, string, bool, error) {
	if name == "" {
		name = "simulator"
	}

	backend, err := s.registry.Get(name)
	if err != nil {
		return nil, "", false, err
	}

	target := "simulator"
	if t, ok := backend.(targeted); ok {
		target = t.Target()
	}
	// A gateway pointed at the provider's cloud simulator is remote but
	// unbilled, so it skips the cost gate like the local simulator does.
	hardware := target != "simulator"
	return backend, target, hardware, nil
}

func (s *Service) shotsFor(req RunRequest, hardware bool) int {
	if req.Shots > 0 {
		return req.Shots
	}
	if hardware {
		return s.cfg.HardwareShots
	}
	return s.cfg.DefaultShots
}

// expectedJobs counts the backend jobs a run will submit, for cost
// estimation and progress totals.
func expectedJobs(experiment string, grid []float64, hardware bool) int {
	switch experiment {
	case TypeSemicircle:
		if hardware {
			if grid != nil {
				return len(grid)
			}
			return len(steppedGrid(0.05, 0.75, 0.05))
		}
		// A grid override replaces the uniform sweep only; the random-state
		// and edge phases still run on the simulator.
		points := 50
		if grid != nil {
			points = len(grid)
		}
		return points + 100 + 3
	case TypeOptimalPoint:
		if grid != nil {
			return len(grid)
		}
		if hardware {
			return len(steppedGrid(0.1, 0.9, 0.1))
		}
		return 17
	case TypeBarrenPlateau:
		if grid != nil {
			return len(grid)
		}
		return 9
	default:
		return 0
	}
}

// runSink persists measurements and fans out progress for one run.
type runSink struct {
	service *Service
	run     *Run

	qTargets  []float64
	qMeasured []float64
	totalJobs int
}

func (rs *runSink) Record(ctx context.Context, m *Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.RunID = rs.run.ID
	if err := rs.service.repo.InsertMeasurement(m); err != nil {
		return err
	}

	rs.qTargets = append(rs.qTargets, m.QTarget)
	rs.qMeasured = append(rs.qMeasured, m.QMeasured)
	rs.totalJobs++

	rs.service.bus.EmitTyped("experiments", &events.MeasurementRecordedData{
		RunID:      rs.run.ID,
		QTarget:    m.QTarget,
		QMeasured:  m.QMeasured,
		CqcTheory:  m.CqcTheory,
		CqcMeasure: m.CqcMeasured,
		Residual:   m.Residual,
	})
	return nil
}

func (rs *runSink) Progress(current, total int, message string) {
	rs.service.bus.EmitTyped("experiments", &events.RunProgressData{
		RunID:   rs.run.ID,
		Current: current,
		Total:   total,
		Message: message,
	})
}

// stats computes the theory-vs-measured agreement over everything recorded.
func (rs *runSink) stats() *SweepStats {
	if len(rs.qTargets) < 2 {
		return nil
	}

	stats := &SweepStats{
		TotalJobs:  rs.totalJobs,
		TotalShots: rs.totalJobs * rs.run.Shots,
	}

	if r, err := analysis.Correlation(rs.qTargets, rs.qMeasured); err == nil {
		stats.Correlation = r
		stats.CorrelationOK = r > 0.9
	}
	if moments, err := analysis.Errors(rs.qTargets, rs.qMeasured); err == nil {
		stats.MeanError = moments.Mean
		stats.StdError = moments.Std
		stats.MaxError = moments.Max
	}
	return stats
}
