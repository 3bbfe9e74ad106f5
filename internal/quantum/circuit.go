package quantum

import (
	"fmt"
	"math"
)

// GateType identifies a single-qubit gate.
type GateType string

const (
	GateH  GateType = "h"
	GateX  GateType = "x"
	GateRY GateType = "ry"
	GateRZ GateType = "rz"
)

// Op is one gate application in a circuit.
type Op struct {
	Gate  GateType
	Theta float64 // rotation angle, unused for h/x
}

// Circuit is an ordered gate sequence on one qubit, terminated by a
// computational-basis measurement.
type Circuit struct {
	Ops []Op
}

// AngleForProbability returns the RY angle preparing excited probability q:
// RY(theta)|0> has q = sin^2(theta/2), so theta = 2*asin(sqrt(q)).
// q is clamped to [0, 1].
func AngleForProbability(q float64) float64 {
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	return 2 * math.Asin(math.Sqrt(q))
}

// ProbabilityForAngle returns sin^2(theta/2), the excited probability of
// RY(theta)|0>.
func ProbabilityForAngle(theta float64) float64 {
	s := math.Sin(theta / 2)
	return s * s
}

// Preparation returns the canonical state-preparation circuit for a target
// excited probability q: a single RY rotation.
func Preparation(q float64) *Circuit {
	return &Circuit{Ops: []Op{{Gate: GateRY, Theta: AngleForProbability(q)}}}
}

// Rotation returns a circuit applying RY(theta). Used by the parameter-shift
// rule, which evaluates the same circuit at shifted angles.
func Rotation(theta float64) *Circuit {
	return &Circuit{Ops: []Op{{Gate: GateRY, Theta: theta}}}
}

// Layered returns a circuit of n repeated RY layers whose composition
// prepares excited probability q. Depth-scaling studies use this to hold the
// final state fixed while growing circuit depth.
func Layered(q float64, layers int) *Circuit {
	if layers < 1 {
		layers = 1
	}
	per := AngleForProbability(q) / float64(layers)
	ops := make([]Op, layers)
	for i := range ops {
		ops[i] = Op{Gate: GateRY, Theta: per}
	}
	return &Circuit{Ops: ops}
}

// WithBasisChange returns a copy of the circuit with a Hadamard appended, so
// the measurement probes the X basis instead of the computational basis.
func (c *Circuit) WithBasisChange() *Circuit {
	ops := make([]Op, len(c.Ops), len(c.Ops)+1)
	copy(ops, c.Ops)
	return &Circuit{Ops: append(ops, Op{Gate: GateH})}
}

// Evolve applies the circuit to the ground state and returns the final state.
func (c *Circuit) Evolve() (*State, error) {
	s := NewState()
	for _, op := range c.Ops {
		switch op.Gate {
		case GateH:
			s.ApplyH()
		case GateX:
			s.ApplyX()
		case GateRY:
			s.ApplyRY(op.Theta)
		case GateRZ:
			s.ApplyRZ(op.Theta)
		default:
			return nil, fmt.Errorf("unknown gate %q", op.Gate)
		}
	}
	return s, nil
}

// ExcitedProbability returns the ideal (noiseless) Born-rule probability of
// measuring |1> after the circuit.
func (c *Circuit) ExcitedProbability() (float64, error) {
	s, err := c.Evolve()
	if err != nil {
		return 0, err
	}
	return s.ProbabilityOne(), nil
}

// Depth returns the number of gates in the circuit.
func (c *Circuit) Depth() int {
	return len(c.Ops)
}
