// Package experiments implements the coherence experiments: semicircle
// constraint validation, optimal operating point, and barren plateau
// geometry. Each experiment sweeps target probabilities through a backend,
// records per-point measurements in results.db, and evaluates pass criteria
// against the closed-form identity C_qc = sqrt(q(1-q)).
package experiments

import "time"

// Experiment types.
const (
	TypeSemicircle    = "semicircle"
	TypeOptimalPoint  = "optimal_point"
	TypeBarrenPlateau = "barren_plateau"
)

// Run statuses. Runs are immutable once terminal.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Types lists the experiment types the service can run.
func Types() []string {
	return []string{TypeSemicircle, TypeOptimalPoint, TypeBarrenPlateau}
}

// Run is one experiment execution.
type Run struct {
	ID          string     `json:"id"`
	Experiment  string     `json:"experiment"`
	Backend     string     `json:"backend"`
	Target      string     `json:"target"`
	Shots       int        `json:"shots"`
	Seed        *int64     `json:"seed,omitempty"`
	Status      string     `json:"status"`
	Passed      *bool      `json:"passed,omitempty"`
	Error       string     `json:"error,omitempty"`
	SummaryJSON string     `json:"-"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Measurement is one sampled point within a run's sweep.
type Measurement struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	Idx           int       `json:"idx"`
	QTarget       float64   `json:"q_target"`
	QMeasured     float64   `json:"q_measured"`
	CqcMeasured   float64   `json:"c_qc_measured"`
	CqcTheory     float64   `json:"c_qc_theory"`
	Residual      float64   `json:"residual"`
	Ones          int       `json:"ones_count"`
	Zeros         int       `json:"zeros_count"`
	ProviderJobID string    `json:"provider_job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// RunRequest is the body of POST /api/experiments/{type}/run.
type RunRequest struct {
	Backend string    `json:"backend"`         // "simulator" (default) | "ionq"
	Shots   int       `json:"shots,omitempty"` // 0 = backend default
	Grid    []float64 `json:"grid,omitempty"`  // q sweep override
	Seed    *int64    `json:"seed,omitempty"`  // simulator reproducibility
	Confirm bool      `json:"confirm"`         // required for paid hardware targets
}

// SweepStats summarizes theory-vs-measured agreement across a run.
// Attached to every completed run regardless of experiment type.
type SweepStats struct {
	Correlation   float64 `json:"correlation"`
	MeanError     float64 `json:"mean_q_error"`
	StdError      float64 `json:"std_q_error"`
	MaxError      float64 `json:"max_q_error"`
	TotalJobs     int     `json:"total_jobs"`
	TotalShots    int     `json:"total_shots"`
	CorrelationOK bool    `json:"correlation_ok"` // r > 0.9
}

// RunSummary is the composite stored as summary_json on a completed run.
type RunSummary struct {
	Experiment string      `json:"experiment"`
	Passed     bool        `json:"passed"`
	Details    interface{} `json:"details"`
	Stats      *SweepStats `json:"stats,omitempty"`
}
