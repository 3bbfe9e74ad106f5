package drift

import (
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/analysis"
	"github.com/arclab/arcq/internal/events"
)

// ErrNoData means a backend has no drift series yet.
var ErrNoData = errors.New("no drift data")

// Defaults for the smoothing window and alert threshold.
const (
	DefaultPeriod    = 5
	DefaultThreshold = 0.02
)

// Status is the current drift assessment for one backend.
type Status struct {
	Backend   string  `json:"backend"`
	Points    int     `json:"points"`
	EMA       float64 `json:"ema_abs_error"`
	SMA       float64 `json:"sma_abs_error"`
	Threshold float64 `json:"threshold"`
	Drifting  bool    `json:"drifting"`
	Series    []Point `json:"series,omitempty"`
}

// Config tunes the monitor.
type Config struct {
	Period    int     // smoothing window
	Threshold float64 // EMA of |error| above this flags drift
}

// Monitor smooths each backend's error series and raises DriftDetected
// events when the EMA crosses the threshold.
type Monitor struct {
	repo *Repository
	bus  *events.Bus
	cfg  Config
	log  zerolog.Logger
}

// NewMonitor creates a drift monitor.
func NewMonitor(repo *Repository, bus *events.Bus, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Monitor{
		repo: repo,
		bus:  bus,
		cfg:  cfg,
		log:  log.With().Str("component", "drift").Logger(),
	}
}

// Repo exposes the repository for retention jobs.
func (m *Monitor) Repo() *Repository {
	return m.repo
}

// Record appends a run's mean error to the series and re-evaluates.
func (m *Monitor) Record(backend, runID string, meanError float64) (*Status, error) {
	if err := m.repo.Add(backend, runID, meanError); err != nil {
		return nil, err
	}
	return m.Check(backend)
}

// Check evaluates a backend and raises the alert event when drifting.
func (m *Monitor) Check(backend string) (*Status, error) {
	status, err := m.Evaluate(backend)
	if err != nil {
		return nil, err
	}

	if status.Drifting {
		m.log.Warn().
			Str("backend", backend).
			Float64("ema", status.EMA).
			Float64("threshold", status.Threshold).
			Msg("Calibration drift detected")
		m.bus.EmitTyped("drift", &events.DriftDetectedData{
			Backend:   backend,
			EMA:       status.EMA,
			Threshold: status.Threshold,
		})
	}
	return status, nil
}

// Evaluate computes the smoothed error for a backend without recording.
func (m *Monitor) Evaluate(backend string) (*Status, error) {
	points, err := m.repo.Series(backend, 0)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("backend %q: %w", backend, ErrNoData)
	}

	series := make([]float64, len(points))
	for i, p := range points {
		series[i] = p.MeanError
	}

	status := &Status{
		Backend:   backend,
		Points:    len(points),
		Threshold: m.cfg.Threshold,
		Series:    points,
	}

	if len(series) < m.cfg.Period {
		// Not enough history for the smoothing window yet; fall back to
		// the plain mean.
		status.EMA = analysis.Mean(series)
		status.SMA = status.EMA
	} else {
		ema := talib.Ema(series, m.cfg.Period)
		sma := talib.Sma(series, m.cfg.Period)
		status.EMA = ema[len(ema)-1]
		status.SMA = sma[len(sma)-1]
	}

	status.Drifting = status.EMA > m.cfg.Threshold
	return status, nil
}
