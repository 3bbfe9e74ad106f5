package quantum

import (
	"fmt"
	"strings"
)

// QASMBuilder builds OpenQASM 2.0 programs for remote submission.
type QASMBuilder struct {
	registers    []string
	gates        []string
	measurements []string
}

// NewQASMBuilder creates a builder with the given register sizes.
func NewQASMBuilder(numQubits, numClassical int) *QASMBuilder {
	return &QASMBuilder{
		registers: []string{
			fmt.Sprintf("qreg q[%d];", numQubits),
			fmt.Sprintf("creg c[%d];", numClassical),
		},
	}
}

// AddGate appends a raw gate statement.
func (b *QASMBuilder) AddGate(stmt string) {
	b.gates = append(b.gates, stmt)
}

// AddMeasurement appends a measurement of a qubit into a classical bit.
func (b *QASMBuilder) AddMeasurement(qubit, classical int) {
	b.measurements = append(b.measurements,
		fmt.Sprintf("measure q[%d] -> c[%d];", qubit, classical))
}

// Build generates the complete QASM program.
func (b *QASMBuilder) Build() string {
	var sb strings.Builder

	sb.WriteString("OPENQASM 2.0;\n")
	sb.WriteString("include \"qelib1.inc\";\n\n")

	for _, reg := range b.registers {
		sb.WriteString(reg + "\n")
	}
	sb.WriteString("\n")

	for _, gate := range b.gates {
		sb.WriteString(gate + "\n")
	}
	if len(b.gates) > 0 {
		sb.WriteString("\n")
	}

	for _, meas := range b.measurements {
		sb.WriteString(meas + "\n")
	}

	return sb.String()
}

// ToQASM serializes the circuit as an OpenQASM 2.0 program measuring the
// qubit into c[0].
func (c *Circuit) ToQASM() (string, error) {
	b := NewQASMBuilder(1, 1)

	for _, op := range c.Ops {
		switch op.Gate {
		case GateH:
			b.AddGate("h q[0];")
		case GateX:
			b.AddGate("x q[0];")
		case GateRY:
			b.AddGate(fmt.Sprintf("ry(%.12f) q[0];", op.Theta))
		case GateRZ:
			b.AddGate(fmt.Sprintf("rz(%.12f) q[0];", op.Theta))
		default:
			return "", fmt.Errorf("gate %q has no QASM form", op.Gate)
		}
	}

	b.AddMeasurement(0, 0)
	return b.Build(), nil
}
