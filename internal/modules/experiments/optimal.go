package experiments

import (
	"context"
	"math"
)

// ConvergencePoint is one simulated gradient-descent run toward q = 0.5.
type ConvergencePoint struct {
	QInit      float64 `json:"q_init"`
	Iterations int     `json:"iterations"`
	QFinal     float64 `json:"q_final"`
}

// OptimalDetails is the per-run summary of the operating-point experiment.
type OptimalDetails struct {
	QAtMax float64 `json:"q_at_max"`
	CqcMax float64 `json:"c_qc_max"`
	// MaxEfficiencyQ is the q maximizing the information-transfer
	// efficiency q(1-q). Closed form, always 0.5 on the reference grid.
	MaxEfficiencyQ float64 `json:"max_efficiency_q"`
	// DerivAtHalf is dC_qc/dq = (1-2q)/(2 C_qc) evaluated at q = 0.5.
	DerivAtHalf float64            `json:"deriv_at_half"`
	Convergence []ConvergencePoint `json:"convergence,omitempty"`
}

// runOptimalPoint verifies q = 0.5 maximizes the quantum-classical
// correlation: C_qc peaks at 0.5, the efficiency q(1-q) peaks there, the
// sensitivity dC_qc/dq is stationary, and simulated gradient descent
// converges fastest from nearby starts.
func runOptimalPoint(ctx context.Context, p Params, sink Sink) (interface{}, bool, error) {
	grid := p.Grid
	if grid == nil {
		if p.Hardware {
			grid = steppedGrid(0.1, 0.9, 0.1)
		} else {
			grid = linspace(0.1, 0.9, 17)
		}
	}

	total := len(grid)
	qAtMax, cqcMax := 0.0, -1.0

	for i, q := range grid {
		m, err := measurePoint(ctx, p, sink, i, q)
		if err != nil {
			return nil, false, err
		}
		if m.CqcMeasured > cqcMax {
			cqcMax = m.CqcMeasured
			qAtMax = q
		}
		sink.Progress(i+1, total, "C_qc sweep")
	}

	// Efficiency and sensitivity follow in closed form from the identity;
	// no additional jobs.
	maxEffQ, maxEff := 0.0, -1.0
	for _, q := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		if eff := q * (1 - q); eff > maxEff {
			maxEff = eff
			maxEffQ = q
		}
	}

	derivAtHalf := sensitivity(0.5)

	details := OptimalDetails{
		QAtMax:         qAtMax,
		CqcMax:         cqcMax,
		MaxEfficiencyQ: maxEffQ,
		DerivAtHalf:    derivAtHalf,
	}

	if !p.Hardware {
		details.Convergence = simulateConvergence(p)
	}

	passed := math.Abs(qAtMax-0.5) < 0.1 &&
		math.Abs(cqcMax-0.5) < 0.05 &&
		math.Abs(maxEffQ-0.5) < 0.01 &&
		math.Abs(derivAtHalf) < 0.1

	return details, passed, nil
}

// sensitivity is dC_qc/dq = (1-2q)/(2 C_qc), zero at the operating point.
func sensitivity(q float64) float64 {
	cqc := math.Sqrt(q * (1 - q))
	if cqc == 0 {
		return 0
	}
	return (1 - 2*q) / (2 * cqc)
}

// simulateConvergence runs noisy gradient descent toward q = 0.5 from a
// range of starting points, counting iterations to reach the target band.
func simulateConvergence(p Params) []ConvergencePoint {
	const (
		target       = 0.5
		learningRate = 0.1
		maxSteps     = 100
		band         = 0.05
	)

	var out []ConvergencePoint
	for _, qInit := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		q := qInit
		iterations := 0
		for i := 0; i < maxSteps; i++ {
			grad := 2 * (q - target)
			q = q - learningRate*grad + p.Rand.NormFloat64()*0.01
			q = math.Min(0.99, math.Max(0.01, q))
			iterations = i + 1
			if math.Abs(q-target) < band {
				break
			}
		}
		out = append(out, ConvergencePoint{QInit: qInit, Iterations: iterations, QFinal: q})
	}
	return out
}
