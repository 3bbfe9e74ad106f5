package experiments

import (
	"context"
	"math"
	"math/rand"

	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/quantum"
)

// Params carries everything an experiment needs to execute.
type Params struct {
	Backend backends.Backend
	Shots   int
	Grid    []float64 // optional sweep override; nil = experiment default
	// Rand drives the modeled phases (convergence simulation, depth decay
	// jitter) and gradient-sample signs. Seeded per run for reproducibility.
	Rand *rand.Rand
	// Hardware restricts the experiment to its single-sweep form: paid
	// targets bill per job, so the multi-phase simulator protocol (random
	// states, gradient resampling) is skipped.
	Hardware bool
}

// Sink receives measurements and progress as a sweep executes.
type Sink interface {
	Record(ctx context.Context, m *Measurement) error
	Progress(current, total int, message string)
}

// measurePoint prepares a state at target q, samples it, and records the
// measurement. Index is the point's position within the whole run.
func measurePoint(ctx context.Context, p Params, sink Sink, idx int, q float64) (*Measurement, error) {
	counts, err := p.Backend.Run(ctx, quantum.Preparation(q), p.Shots)
	if err != nil {
		return nil, err
	}

	qm := counts.Probability()
	cqc := math.Sqrt(qm * (1 - qm))

	m := &Measurement{
		Idx:           idx,
		QTarget:       q,
		QMeasured:     qm,
		CqcMeasured:   cqc,
		CqcTheory:     math.Sqrt(q * (1 - q)),
		Residual:      (qm-0.5)*(qm-0.5) + cqc*cqc - 0.25,
		Ones:          counts.Ones,
		Zeros:         counts.Zeros,
		ProviderJobID: counts.ProviderJobID,
	}

	if err := sink.Record(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// linspace returns n evenly spaced values from lo to hi inclusive.
func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

// steppedGrid returns lo, lo+step, ... up to hi inclusive (within epsilon).
func steppedGrid(lo, hi, step float64) []float64 {
	var out []float64
	for q := lo; q <= hi+1e-9; q += step {
		out = append(out, q)
	}
	return out
}
