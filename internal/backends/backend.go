// Package backends defines the execution interface shared by the local
// simulator and the remote hardware gateway, plus the cost model for
// hardware submissions.
package backends

import (
	"context"
	"fmt"

	"github.com/arclab/arcq/internal/quantum"
)

// Counts is the tally of measurement outcomes from one circuit execution.
type Counts struct {
	Ones          int    `json:"ones"`
	Zeros         int    `json:"zeros"`
	ProviderJobID string `json:"provider_job_id,omitempty"`
}

// Shots returns the total number of shots behind the tally.
func (c Counts) Shots() int {
	return c.Ones + c.Zeros
}

// Probability returns the measured excited-outcome probability ones/shots.
func (c Counts) Probability() float64 {
	total := c.Shots()
	if total == 0 {
		return 0
	}
	return float64(c.Ones) / float64(total)
}

// Status describes a backend's availability.
type Status struct {
	Backend   string `json:"backend"`
	Target    string `json:"target,omitempty"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// Backend executes a single-qubit circuit for a number of shots.
type Backend interface {
	// Name identifies the backend ("simulator", "ionq").
	Name() string
	// Run executes the circuit and tallies outcomes. Hardware backends may
	// block for a long time (queued jobs); cancellation goes through ctx.
	Run(ctx context.Context, circuit *quantum.Circuit, shots int) (Counts, error)
	// Status reports current availability.
	Status(ctx context.Context) (Status, error)
}

// Per-job minimum charges in USD by hardware target. Real trapped-ion
// providers bill a minimum per job regardless of shot count, so a sweep of
// N q-values costs at least N times the minimum.
var jobMinimumUSD = map[string]float64{
	"qpu.forte-1": 25.00,
	"qpu.aria-1":  12.50,
	"simulator":   0,
}

// CostEstimate is the pre-submission price floor for a planned sweep.
type CostEstimate struct {
	Target        string  `json:"target"`
	Jobs          int     `json:"jobs"`
	ShotsPerJob   int     `json:"shots_per_job"`
	TotalShots    int     `json:"total_shots"`
	PerJobMinimum float64 `json:"per_job_minimum_usd"`
	TotalMinimum  float64 `json:"total_minimum_usd"`
	Free          bool    `json:"free"`
}

// Estimate computes the minimum cost of running `jobs` jobs on a target.
// Per-shot and per-gate charges come on top of the minimum; the estimate is
// a floor, not a quote.
func Estimate(target string, jobs, shotsPerJob int) (CostEstimate, error) {
	minimum, ok := jobMinimumUSD[target]
	if !ok {
		return CostEstimate{}, fmt.Errorf("unknown target %q", target)
	}

	return CostEstimate{
		Target:        target,
		Jobs:          jobs,
		ShotsPerJob:   shotsPerJob,
		TotalShots:    jobs * shotsPerJob,
		PerJobMinimum: minimum,
		TotalMinimum:  float64(jobs) * minimum,
		Free:          minimum == 0,
	}, nil
}

// KnownTargets lists the targets the cost model understands.
func KnownTargets() []string {
	return []string{"qpu.forte-1", "qpu.aria-1", "simulator"}
}
