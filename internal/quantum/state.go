// Package quantum implements the single-qubit state model and circuits used
// by the coherence experiments. A qubit state is a pair of complex amplitudes
// (alpha, beta) with |alpha|^2 + |beta|^2 = 1; the Born rule gives the
// excited-outcome probability q = |beta|^2 and the quantum-classical
// correlation C_qc = |alpha||beta| = sqrt(q(1-q)).
package quantum

import (
	"math"
	"math/cmplx"
)

// State is a single-qubit statevector.
type State struct {
	Alpha complex128 // amplitude of |0>
	Beta  complex128 // amplitude of |1>
}

// NewState returns the ground state |0>.
func NewState() *State {
	return &State{Alpha: 1, Beta: 0}
}

// ApplyH applies the Hadamard gate.
func (s *State) ApplyH() {
	inv := complex(1/math.Sqrt2, 0)
	a, b := s.Alpha, s.Beta
	s.Alpha = inv * (a + b)
	s.Beta = inv * (a - b)
}

// ApplyX applies the Pauli-X (bit flip) gate.
func (s *State) ApplyX() {
	s.Alpha, s.Beta = s.Beta, s.Alpha
}

// ApplyRY applies a rotation about the Y axis by theta.
func (s *State) ApplyRY(theta float64) {
	c := complex(math.Cos(theta/2), 0)
	sn := complex(math.Sin(theta/2), 0)
	a, b := s.Alpha, s.Beta
	s.Alpha = c*a - sn*b
	s.Beta = sn*a + c*b
}

// ApplyRZ applies a rotation about the Z axis by phi.
func (s *State) ApplyRZ(phi float64) {
	s.Alpha *= cmplx.Exp(complex(0, -phi/2))
	s.Beta *= cmplx.Exp(complex(0, phi/2))
}

// ProbabilityOne returns the Born-rule probability of measuring |1>.
func (s *State) ProbabilityOne() float64 {
	p := real(s.Beta)*real(s.Beta) + imag(s.Beta)*imag(s.Beta)
	// Numerical cleanup: amplitudes drift slightly off normalization
	// after long gate sequences.
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Coherence returns |alpha||beta|, the quantum-classical correlation of the state.
func (s *State) Coherence() float64 {
	return cmplx.Abs(s.Alpha) * cmplx.Abs(s.Beta)
}
