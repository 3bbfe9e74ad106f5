package experiments

import (
	"context"
	"math"

	"github.com/arclab/arcq/internal/analysis"
)

// Semicircle pass thresholds.
const (
	semicircleRMSLimit    = 1e-3
	semicircleMaxLimit    = 1e-2
	semicircleRadiusLimit = 1e-3
)

// SemicircleDetails is the per-run summary of the constraint validation.
type SemicircleDetails struct {
	UniformPoints int     `json:"uniform_points"`
	RandomPoints  int     `json:"random_points"`
	RMSUniform    float64 `json:"rms_uniform"`
	RMSRandom     float64 `json:"rms_random,omitempty"`
	MaxResidual   float64 `json:"max_residual"`
	MeanRadius    float64 `json:"mean_radius"`
	RadiusStd     float64 `json:"radius_std"`
	// Edge residuals at q ~ 0, q = 0.5, q ~ 1 (simulator only).
	EdgeResiduals []float64 `json:"edge_residuals,omitempty"`
}

// runSemicircle validates (q - 0.5)^2 + C_qc^2 = 0.25 by sampling.
//
// Simulator protocol: a uniform q sweep, a random-state phase (uniform
// theta), and edge cases near the classical limits. Hardware protocol: a
// single coarse sweep, one job per point.
func runSemicircle(ctx context.Context, p Params, sink Sink) (interface{}, bool, error) {
	grid := p.Grid
	if grid == nil {
		if p.Hardware {
			grid = steppedGrid(0.05, 0.75, 0.05)
		} else {
			grid = linspace(0.01, 0.99, 50)
		}
	}

	randomStates := 100
	edges := []float64{0.001, 0.5, 0.999}
	if p.Hardware {
		randomStates = 0
		edges = nil
	}

	total := len(grid) + randomStates + len(edges)
	current := 0

	var uniformResiduals, randomResiduals, radii []float64
	maxResidual := 0.0

	record := func(q float64, residuals *[]float64) error {
		m, err := measurePoint(ctx, p, sink, current, q)
		if err != nil {
			return err
		}
		*residuals = append(*residuals, m.Residual)
		if math.Abs(m.Residual) > maxResidual {
			maxResidual = math.Abs(m.Residual)
		}
		x := m.QMeasured - 0.5
		radii = append(radii, math.Sqrt(x*x+m.CqcMeasured*m.CqcMeasured))
		current++
		return nil
	}

	sink.Progress(current, total, "Uniform q sweep")
	for _, q := range grid {
		if err := record(q, &uniformResiduals); err != nil {
			return nil, false, err
		}
		sink.Progress(current, total, "Uniform q sweep")
	}

	if randomStates > 0 {
		sink.Progress(current, total, "Random state preparation")
		for i := 0; i < randomStates; i++ {
			theta := p.Rand.Float64() * math.Pi
			q := math.Pow(math.Sin(theta/2), 2)
			if err := record(q, &randomResiduals); err != nil {
				return nil, false, err
			}
			sink.Progress(current, total, "Random state preparation")
		}
	}

	var edgeResiduals []float64
	for _, q := range edges {
		m, err := measurePoint(ctx, p, sink, current, q)
		if err != nil {
			return nil, false, err
		}
		edgeResiduals = append(edgeResiduals, m.Residual)
		current++
		sink.Progress(current, total, "Edge cases")
	}

	details := SemicircleDetails{
		UniformPoints: len(grid),
		RandomPoints:  randomStates,
		RMSUniform:    analysis.RMS(uniformResiduals),
		MaxResidual:   maxResidual,
		MeanRadius:    analysis.Mean(radii),
		RadiusStd:     analysis.StdDev(radii),
		EdgeResiduals: edgeResiduals,
	}

	passed := details.RMSUniform < semicircleRMSLimit &&
		details.MaxResidual < semicircleMaxLimit &&
		math.Abs(details.MeanRadius-0.5) < semicircleRadiusLimit

	if randomStates > 0 {
		details.RMSRandom = analysis.RMS(randomResiduals)
		passed = passed && details.RMSRandom < semicircleRMSLimit
	}

	return details, passed, nil
}
