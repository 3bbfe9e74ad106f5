package experiments

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles run and measurement persistence in results.db.
// Runs are append-then-finalize: a row is inserted as running and updated
// exactly once when it reaches a terminal status. Measurements are
// append-only.
type Repository struct {
	db  *sql.DB // results.db - runs, measurements
	log zerolog.Logger
}

// NewRepository creates a new experiments repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "experiments").Logger(),
	}
}

// CreateRun inserts a new run in running status.
func (r *Repository) CreateRun(run *Run) error {
	var seed interface{}
	if run.Seed != nil {
		seed = *run.Seed
	}

	_, err := r.db.Exec(`
		INSERT INTO runs (id, experiment, backend, target, shots, seed, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Experiment, run.Backend, run.Target, run.Shots, seed, StatusRunning, run.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a run completed with its summary.
func (r *Repository) CompleteRun(id string, passed bool, summaryJSON string) error {
	passedInt := 0
	if passed {
		passedInt = 1
	}

	_, err := r.db.Exec(`
		UPDATE runs SET status = ?, passed = ?, summary_json = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, StatusCompleted, passedInt, summaryJSON, time.Now().Unix(), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", id, err)
	}
	return nil
}

// FailRun marks a run failed with an error message.
func (r *Repository) FailRun(id string, runErr string) error {
	_, err := r.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, StatusFailed, runErr, time.Now().Unix(), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail run %s: %w", id, err)
	}
	return nil
}

// InsertMeasurement appends a measurement to a run.
func (r *Repository) InsertMeasurement(m *Measurement) error {
	result, err := r.db.Exec(`
		INSERT INTO measurements (run_id, idx, q_target, q_measured, c_qc_measured,
			c_qc_theory, residual, ones_count, zeros_count, provider_job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RunID, m.Idx, m.QTarget, m.QMeasured, m.CqcMeasured, m.CqcTheory,
		m.Residual, m.Ones, m.Zeros, m.ProviderJobID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

// GetRun retrieves a run by id. Returns nil if not found.
func (r *Repository) GetRun(id string) (*Run, error) {
	row := r.db.QueryRow(`
		SELECT id, experiment, backend, target, shots, seed, status, passed,
			error, summary_json, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest-first, optionally filtered by experiment type.
func (r *Repository) ListRuns(experiment string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, experiment, backend, target, shots, seed, status, passed,
			error, summary_json, started_at, finished_at
		FROM runs`
	args := []interface{}{}
	if experiment != "" {
		query += " WHERE experiment = ?"
		args = append(args, experiment)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetMeasurements returns a run's measurements in sweep order.
func (r *Repository) GetMeasurements(runID string) ([]Measurement, error) {
	rows, err := r.db.Query(`
		SELECT id, run_id, idx, q_target, q_measured, c_qc_measured, c_qc_theory,
			residual, ones_count, zeros_count, provider_job_id, created_at
		FROM measurements WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get measurements for run %s: %w", runID, err)
	}
	defer rows.Close()

	var ms []Measurement
	for rows.Next() {
		var m Measurement
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.RunID, &m.Idx, &m.QTarget, &m.QMeasured,
			&m.CqcMeasured, &m.CqcTheory, &m.Residual, &m.Ones, &m.Zeros,
			&m.ProviderJobID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

// MeanQError returns the mean |q_measured - q_target| of a run, for the
// drift series.
func (r *Repository) MeanQError(runID string) (float64, error) {
	var mean sql.NullFloat64
	err := r.db.QueryRow(`
		SELECT AVG(ABS(q_measured - q_target)) FROM measurements WHERE run_id = ?
	`, runID).Scan(&mean)
	if err != nil {
		return 0, fmt.Errorf("failed to compute mean q error for run %s: %w", runID, err)
	}
	if !mean.Valid {
		return 0, nil
	}
	return mean.Float64, nil
}

// CountRuns returns the total number of runs.
func (r *Repository) CountRuns() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var seed sql.NullInt64
	var passed sql.NullInt64
	var errMsg, summary sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(&run.ID, &run.Experiment, &run.Backend, &run.Target,
		&run.Shots, &seed, &run.Status, &passed, &errMsg, &summary,
		&startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if seed.Valid {
		s := seed.Int64
		run.Seed = &s
	}
	if passed.Valid {
		p := passed.Int64 == 1
		run.Passed = &p
	}
	run.Error = errMsg.String
	run.SummaryJSON = summary.String
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		f := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &f
	}
	return &run, nil
}
