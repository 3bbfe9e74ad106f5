// Package simulator implements the local sampling backend. It evolves the
// single-qubit statevector, then draws shot outcomes from the Born
// probability, optionally through a readout-noise model.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/quantum"
)

// NoiseModel perturbs ideal sampling to mimic hardware imperfections.
type NoiseModel struct {
	// PrepJitterStd is the std of Gaussian jitter added to the ideal Born
	// probability before sampling (models preparation miscalibration).
	PrepJitterStd float64
	// ReadoutFlip01 is the probability a true |0> reads out as 1.
	ReadoutFlip01 float64
	// ReadoutFlip10 is the probability a true |1> reads out as 0.
	ReadoutFlip10 float64
}

// Simulator is the local statevector sampling backend.
type Simulator struct {
	rng   *rand.Rand
	noise *NoiseModel // nil = ideal sampling
	log   zerolog.Logger
	mu    sync.Mutex // rand.Rand is not safe for concurrent use
}

// New creates a simulator seeded for reproducibility.
func New(seed int64, noise *NoiseModel, log zerolog.Logger) *Simulator {
	return &Simulator{
		rng:   rand.New(rand.NewSource(seed)),
		noise: noise,
		log:   log.With().Str("backend", "simulator").Logger(),
	}
}

// Name identifies the backend.
func (s *Simulator) Name() string {
	return "simulator"
}

// Run samples `shots` measurement outcomes of the circuit.
func (s *Simulator) Run(ctx context.Context, circuit *quantum.Circuit, shots int) (backends.Counts, error) {
	if shots <= 0 {
		return backends.Counts{}, fmt.Errorf("shots must be positive, got %d", shots)
	}
	if err := ctx.Err(); err != nil {
		return backends.Counts{}, err
	}

	p, err := circuit.ExcitedProbability()
	if err != nil {
		return backends.Counts{}, fmt.Errorf("failed to evolve circuit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.noise != nil && s.noise.PrepJitterStd > 0 {
		p = clamp01(p + s.rng.NormFloat64()*s.noise.PrepJitterStd)
	}

	var ones int
	for i := 0; i < shots; i++ {
		outcome := s.rng.Float64() < p
		if s.noise != nil {
			outcome = s.applyReadoutNoise(outcome)
		}
		if outcome {
			ones++
		}
	}

	s.log.Debug().
		Float64("p", p).
		Int("shots", shots).
		Int("ones", ones).
		Msg("Sampled circuit")

	return backends.Counts{Ones: ones, Zeros: shots - ones}, nil
}

// Status reports availability; the simulator is always available.
func (s *Simulator) Status(ctx context.Context) (backends.Status, error) {
	return backends.Status{
		Backend:   s.Name(),
		Target:    "simulator",
		Available: true,
	}, nil
}

// applyReadoutNoise flips an outcome according to the asymmetric readout
// error rates. Caller holds s.mu.
func (s *Simulator) applyReadoutNoise(excited bool) bool {
	if excited {
		if s.noise.ReadoutFlip10 > 0 && s.rng.Float64() < s.noise.ReadoutFlip10 {
			return false
		}
		return true
	}
	if s.noise.ReadoutFlip01 > 0 && s.rng.Float64() < s.noise.ReadoutFlip01 {
		return true
	}
	return false
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
