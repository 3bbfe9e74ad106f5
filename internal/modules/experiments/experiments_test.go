package experiments

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclab/arcq/internal/backends/simulator"
)

// collectSink gathers measurements without persistence.
type collectSink struct {
	measurements []Measurement
}

func (c *collectSink) Record(ctx context.Context, m *Measurement) error {
	c.measurements = append(c.measurements, *m)
	return nil
}

func (c *collectSink) Progress(current, total int, message string) {}

func simParams(seed int64, shots int) Params {
	return Params{
		Backend: simulator.New(seed, nil, zerolog.Nop()),
		Shots:   shots,
		Rand:    rand.New(rand.NewSource(seed)),
	}
}

func TestSemicircle_PassesOnSimulator(t *testing.T) {
	sink := &collectSink{}
	details, passed, err := runSemicircle(context.Background(), simParams(42, 1000), sink)
	require.NoError(t, err)
	assert.True(t, passed)

	d := details.(SemicircleDetails)
	assert.Equal(t, 50, d.UniformPoints)
	assert.Equal(t, 100, d.RandomPoints)
	assert.Less(t, d.RMSUniform, 1e-3)
	assert.Less(t, d.RMSRandom, 1e-3)
	assert.Less(t, d.MaxResidual, 1e-2)
	assert.InDelta(t, 0.5, d.MeanRadius, 1e-3)
	assert.Len(t, d.EdgeResiduals, 3)
	assert.Len(t, sink.measurements, 50+100+3)
}

func TestSemicircle_HardwareSweepIsSinglePhase(t *testing.T) {
	p := simParams(7, 52)
	p.Hardware = true

	sink := &collectSink{}
	details, passed, err := runSemicircle(context.Background(), p, sink)
	require.NoError(t, err)
	assert.True(t, passed)

	d := details.(SemicircleDetails)
	assert.Equal(t, 15, d.UniformPoints)
	assert.Equal(t, 0, d.RandomPoints)
	assert.Empty(t, d.EdgeResiduals)
	assert.Len(t, sink.measurements, 15)
	assert.InDelta(t, 0.05, sink.measurements[0].QTarget, 1e-9)
	assert.InDelta(t, 0.75, sink.measurements[14].QTarget, 1e-9)
}

func TestSemicircle_GridOverride(t *testing.T) {
	p := simParams(1, 500)
	p.Grid = []float64{0.2, 0.5, 0.8}
	p.Hardware = true

	sink := &collectSink{}
	_, _, err := runSemicircle(context.Background(), p, sink)
	require.NoError(t, err)
	assert.Len(t, sink.measurements, 3)
}

func TestOptimalPoint_MaximumAtHalf(t *testing.T) {
	sink := &collectSink{}
	details, passed, err := runOptimalPoint(context.Background(), simParams(3, 1000), sink)
	require.NoError(t, err)
	assert.True(t, passed)

	d := details.(OptimalDetails)
	assert.InDelta(t, 0.5, d.QAtMax, 0.1)
	assert.InDelta(t, 0.5, d.CqcMax, 0.05)
	assert.InDelta(t, 0.5, d.MaxEfficiencyQ, 1e-9)
	assert.InDelta(t, 0.0, d.DerivAtHalf, 1e-9)
	assert.Len(t, d.Convergence, 5)
	assert.Len(t, sink.measurements, 17)
}

func TestOptimalPoint_HardwareGridHasNineJobs(t *testing.T) {
	p := simParams(5, 52)
	p.Hardware = true

	sink := &collectSink{}
	details, _, err := runOptimalPoint(context.Background(), p, sink)
	require.NoError(t, err)
	assert.Len(t, sink.measurements, 9)

	d := details.(OptimalDetails)
	assert.Empty(t, d.Convergence)
}

func TestSensitivityStationaryAtHalf(t *testing.T) {
	assert.InDelta(t, 0.0, sensitivity(0.5), 1e-12)
	// Away from the operating point the sensitivity grows.
	assert.Greater(t, math.Abs(sensitivity(0.1)), math.Abs(sensitivity(0.45)))
	assert.Negative(t, sensitivity(0.9))
	assert.Positive(t, sensitivity(0.1))
}

func TestBarrenPlateau_VarianceTracksCoherence(t *testing.T) {
	sink := &collectSink{}
	details, passed, err := runBarrenPlateau(context.Background(), simParams(11, 1000), sink)
	require.NoError(t, err)
	assert.True(t, passed)

	d := details.(PlateauDetails)
	require.Len(t, d.Gradients, 9)
	assert.Greater(t, d.Correlation, 0.95)

	for _, g := range d.Gradients {
		assert.InDelta(t, g.TheoryVariance, g.MeasuredVariance, 0.05, "q=%v", g.Q)
	}

	// The operating point is trainable; classification follows the
	// measured variance against the threshold.
	assert.False(t, d.Gradients[4].Barren, "q=0.5 should be trainable")
	for _, g := range d.Gradients {
		assert.Equal(t, g.MeasuredVariance < barrenThreshold, g.Barren)
	}

	// Depth scaling decays and is fit by an exponential.
	require.Len(t, d.Depth, 5)
	assert.Greater(t, d.Depth[0].Variance, d.Depth[4].Variance)
	assert.Positive(t, d.DecayRate)

	// Training converges best at the operating point.
	assert.InDelta(t, 0.5, d.BestQ, 0.1)
}

func TestBarrenPlateau_HardwareUsesMeasuredCoherence(t *testing.T) {
	p := simParams(13, 52)
	p.Hardware = true

	sink := &collectSink{}
	details, _, err := runBarrenPlateau(context.Background(), p, sink)
	require.NoError(t, err)

	d := details.(PlateauDetails)
	require.Len(t, d.Gradients, 9)
	assert.Empty(t, d.Depth)
	assert.Empty(t, d.Training)
	// One job per point: implied variance comes from q_measured.
	assert.Len(t, sink.measurements, 9)
	assert.Greater(t, d.Correlation, 0.9)
}

func TestExpectedJobs(t *testing.T) {
	assert.Equal(t, 153, expectedJobs(TypeSemicircle, nil, false))
	assert.Equal(t, 15, expectedJobs(TypeSemicircle, nil, true))
	assert.Equal(t, 17, expectedJobs(TypeOptimalPoint, nil, false))
	assert.Equal(t, 9, expectedJobs(TypeOptimalPoint, nil, true))
	assert.Equal(t, 9, expectedJobs(TypeBarrenPlateau, nil, true))
	assert.Equal(t, 4, expectedJobs(TypeSemicircle, []float64{0.1, 0.2, 0.3, 0.4}, true))
}

func TestMeasurePointComputesIdentity(t *testing.T) {
	sink := &collectSink{}
	m, err := measurePoint(context.Background(), simParams(17, 2000), sink, 0, 0.3)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, m.QMeasured, 0.05)
	assert.InDelta(t, math.Sqrt(m.QMeasured*(1-m.QMeasured)), m.CqcMeasured, 1e-12)
	assert.InDelta(t, math.Sqrt(0.3*0.7), m.CqcTheory, 1e-12)
	// The residual vanishes by construction under Born-rule sampling.
	assert.InDelta(t, 0.0, m.Residual, 1e-12)
	assert.Equal(t, 2000, m.Ones+m.Zeros)
}
